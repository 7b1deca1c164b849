package main

import (
	"flag"
	"fmt"
	"os"
)

type Config struct {
	Port        int
	Host        string
	LogLevel    string
	LogFormat   string
	MetricsPort int

	StorageBackend   string
	DataDir          string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	RedisAddr     string
	RedisPassword string

	ArtifactBackend string
	ArtifactDir     string
	S3Bucket        string
	S3Region        string
	S3Prefix        string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	MaxVersions  int
	AutoDispatch bool

	TLSCert   string
	TLSKey    string
	EnableTLS bool
	Version   bool
}

func ParseFlags() *Config {
	config := &Config{}

	flag.IntVar(&config.Port, "port", 8080, "Server port")
	flag.StringVar(&config.Host, "host", "0.0.0.0", "Server host")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&config.LogFormat, "log-format", "json", "Log format (json, text)")
	flag.IntVar(&config.MetricsPort, "metrics-port", 9090, "Prometheus metrics port")

	flag.StringVar(&config.StorageBackend, "storage", "memory", "Storage backend (memory, file, postgres)")
	flag.StringVar(&config.DataDir, "data-dir", "./data", "Data directory for the file backend")
	flag.StringVar(&config.PostgresHost, "postgres-host", "localhost", "PostgreSQL host")
	flag.IntVar(&config.PostgresPort, "postgres-port", 5432, "PostgreSQL port")
	flag.StringVar(&config.PostgresDB, "postgres-db", "modelctl", "PostgreSQL database")
	flag.StringVar(&config.PostgresUser, "postgres-user", "modelctl", "PostgreSQL user")
	flag.StringVar(&config.PostgresPassword, "postgres-password", "", "PostgreSQL password")
	flag.StringVar(&config.PostgresSSLMode, "postgres-sslmode", "disable", "PostgreSQL SSL mode")

	flag.StringVar(&config.RedisAddr, "redis-addr", "", "Redis address for the active-deployment cache (empty disables)")
	flag.StringVar(&config.RedisPassword, "redis-password", "", "Redis password")

	flag.StringVar(&config.ArtifactBackend, "artifacts", "local", "Artifact backend (local, s3)")
	flag.StringVar(&config.ArtifactDir, "artifact-dir", "./artifacts", "Artifact directory for the local backend")
	flag.StringVar(&config.S3Bucket, "s3-bucket", "", "S3 bucket for model artifacts")
	flag.StringVar(&config.S3Region, "s3-region", "us-east-1", "S3 region")
	flag.StringVar(&config.S3Prefix, "s3-prefix", "models", "S3 key prefix")

	flag.StringVar(&config.InfluxURL, "influx-url", "", "InfluxDB URL for the metric archive (empty disables)")
	flag.StringVar(&config.InfluxToken, "influx-token", "", "InfluxDB token")
	flag.StringVar(&config.InfluxOrg, "influx-org", "", "InfluxDB organization")
	flag.StringVar(&config.InfluxBucket, "influx-bucket", "model-metrics", "InfluxDB bucket")

	flag.IntVar(&config.MaxVersions, "max-versions", 5, "Versions retained per model before pruning")
	flag.BoolVar(&config.AutoDispatch, "auto-dispatch", false, "Dispatch retrain requests without operator approval")

	flag.StringVar(&config.TLSCert, "tls-cert", "", "Path to TLS certificate")
	flag.StringVar(&config.TLSKey, "tls-key", "", "Path to TLS key")
	flag.BoolVar(&config.EnableTLS, "enable-tls", false, "Enable TLS")
	flag.BoolVar(&config.Version, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nModel Version & Deployment Control Plane\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if config.Version {
		info := GetBuildInfo()
		fmt.Printf("Version: %s\n", info.Version)
		fmt.Printf("Git Commit: %s\n", info.GitCommit)
		fmt.Printf("Build Date: %s\n", info.BuildDate)
		fmt.Printf("Go Version: %s\n", info.GoVersion)
		fmt.Printf("Platform: %s\n", info.Platform)
		os.Exit(0)
	}

	return config
}
