package backends

import (
	"adslots/internal/backends/ddb"
	"adslots/internal/ledger"
	"adslots/internal/ports"
	"adslots/internal/pub"
	"adslots/internal/types"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"

	redisbackend "adslots/internal/backends/redis"
)

const (
	LedgerBackendsEnvKey = "LEDGER_BACKENDS"
	BackendMemory        = "memory"
	BackendDDB           = "ddb"
	BackendRedis         = "redis"
	BackendSNS           = "sns"

	DDBEndpointKey = "DDB_ENDPOINT"
	DDBTableKey    = "DDB_TABLE"

	SNSTopicArnKey = "SNS_TOPIC_ARN"
	SNSEndpointKey = "SNS_ENDPOINT"

	RedisHost  = "REDIS_HOST"
	RedisPort  = "REDIS_PORT"
	RedisUser  = "REDIS_USER"
	RedisPass  = "REDIS_PASS"
	RedisTLS   = "REDIS_SSL"
	RedisDBNum = "REDIS_DB_NUM"
)
const AmazonRootCA1PEM = `-----BEGIN CERTIFICATE-----
MIIDQTCCAimgAwIBAgITBmyfz5m/jAo54vB4ikPmljZbyjANBgkqhkiG9w0BAQsF
ADA5MQswCQYDVQQGEwJVUzEPMA0GA1UEChMGQW1hem9uMRkwFwYDVQQDExBBbWF6
b24gUm9vdCBDQSAxMB4XDTE1MDUyNjAwMDAwMFoXDTM4MDExNzAwMDAwMFowOTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoTBkFtYXpvbjEZMBcGA1UEAxMQQW1hem9uIFJv
b3QgQ0EgMTCCASIwDQYJKoZIhvcNAQEBBQADggEPADCCAQoCggEBALJ4gHHKeNXj
ca9HgFB0fW7Y14h29Jlo91ghYPl0hAEvrAIthtOgQ3pOsqTQNroBvo3bSMgHFzZM
9O6II8c+6zf1tRn4SWiw3te5djgdYZ6k/oI2peVKVuRF4fn9tBb6dNqcmzU5L/qw
IFAGbHrQgLKm+a/sRxmPUDgH3KKHOVj4utWp+UhnMJbulHheb4mjUcAwhmahRWa6
VOujw5H5SNz/0egwLX0tdHA114gk957EWW67c4cX8jJGKLhD+rcdqsq08p8kDi1L
93FcXmn/6pUCyziKrlA4b9v7LWIbxcceVOF34GfID5yHI9Y/QCB/IIDEgEw+OyQm
jgSubJrIqg0CAwEAAaNCMEAwDwYDVR0TAQH/BAUwAwEB/zAOBgNVHQ8BAf8EBAMC
AYYwHQYDVR0OBBYEFIQYzIU07LwMlJQuCFmcx7IQTgoIMA0GCSqGSIb3DQEBCwUA
A4IBAQCY8jdaQZChGsV2USggNiMOruYou6r4lK5IpDB/G/wkjUu0yKGX9rbxenDI
U5PMCCjjmCXPI6T53iHTfIUJrU6adTrCC2qJeHZERxhlbI1Bjjt/msv0tadQ1wUs
N+gDS63pYaACbvXy8MWy7Vu33PqUXHeeE6V/Uq2V8viTO96LXFvKWlJbYK8U90vv
o/ufQJVtMVT8QtPHRh8jrdkPSHCa2XV4cdFyQzR1bldZwgJcJmApzyMZFo6IQ6XU
5MsI+yMRQ+hDKXJioaldXgjUkK642M4UwtBV8ob2xJNDd2ZhwLnoQdeXeGADbkpy
rqXRfboQnoZsG4q5WTP468SQvvG5
-----END CERTIFICATE-----`

// LedgerSinksFromEnv constructs the impression sinks listed in LEDGER_BACKENDS, a comma
// separated list of "memory", "redis", "ddb" and "sns". Defaults to "memory".
// Each backend reads its own env vars; see the constants above.
func LedgerSinksFromEnv() (sinks []ports.ImpressionSink, err error) {
	names, err := ParseBackends(getenv(LedgerBackendsEnvKey, BackendMemory))
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		var sink ports.ImpressionSink
		switch name {
		case BackendMemory:
			sink = ledger.NewMemorySink()

		case BackendRedis:
			var redisClient *redis.Client
			redisClient, err = redisClientFromEnv()
			if err != nil {
				return nil, err
			}
			sink = redisbackend.NewImpressionStore(redisClient)

		case BackendDDB:
			var ddbClient *dynamodb.Client
			ddbClient, err = ddbClientFromEnv()
			if err != nil {
				return nil, err
			}
			sink, err = ddb.NewImpressionStore(getenv(DDBTableKey, "adslots_impressions"), ddbClient)
			if err != nil {
				return nil, err
			}

		case BackendSNS:
			arn := os.Getenv(SNSTopicArnKey)
			if arn == "" {
				return nil, types.Err(types.ErrInvalidBackend, nil, "%s is required for the sns backend", SNSTopicArnKey)
			}
			var snsClient *sns.Client
			snsClient, err = snsClientFromEnv()
			if err != nil {
				return nil, err
			}
			sink = pub.NewSink(pub.NewSNS(snsClient), arn)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// ParseBackends splits and validates a LEDGER_BACKENDS value. Duplicates are dropped.
func ParseBackends(v string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, name := range strings.Split(v, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		switch name {
		case BackendMemory, BackendRedis, BackendDDB, BackendSNS:
		default:
			return nil, types.Err(types.ErrInvalidBackend, nil, "unknown ledger backend %q", name)
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// snsClientFromEnv creates an SNS client, pointed at SNS_ENDPOINT when set.
func snsClientFromEnv() (*sns.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, err
	}
	endpoint := os.Getenv(SNSEndpointKey)
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			// local testing only
			o.BaseEndpoint = aws.String(endpoint)
			o.Region = getenv("AWS_REGION", "us-east-1")
			o.Credentials = localCredentials()
		}
	}), nil
}

// ddbClientFromEnv creates a DynamoDB client from environment variables, if any.
func ddbClientFromEnv() (*dynamodb.Client, error) {
	var ddbEndpoint *string
	de := os.Getenv(DDBEndpointKey)
	if de != "" {
		ddbEndpoint = aws.String(de)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background())

	if err != nil {
		return nil, err
	}

	ddbClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if ddbEndpoint != nil {
			// This is used for testing only locally
			o.BaseEndpoint = ddbEndpoint
			o.Region = getenv("AWS_REGION", "us-east-1")
			o.Credentials = localCredentials()
		}
	})
	return ddbClient, nil
}

// redisClientFromEnv creates a Redis client from environment variables, if any.
func redisClientFromEnv() (*redis.Client, error) {
	host := getenv(RedisHost, "localhost")
	port := getenv(RedisPort, "6379")
	user := os.Getenv(RedisUser)
	pass := os.Getenv(RedisPass)
	tlsEnabled := parseBoolean(getenv(RedisTLS, "false"))
	dbNumStr := getenv(RedisDBNum, "0")
	dbNum, err := strconv.Atoi(dbNumStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis DB number: %w", err)
	}

	var tlsConfig *tls.Config
	if tlsEnabled {
		// Create a CA certificate pool and add our CA certificate
		caCerts := x509.NewCertPool()
		if !caCerts.AppendCertsFromPEM([]byte(AmazonRootCA1PEM)) {
			return nil, fmt.Errorf("failed to retrieve CA certificate")
		}
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    caCerts,
		}
	}

	redisConfig := redis.Options{
		Addr:      fmt.Sprintf("%s:%s", host, port),
		Username:  user,
		Password:  pass,
		DB:        dbNum,
		TLSConfig: tlsConfig,
	}
	redisClient := redis.NewClient(&redisConfig)
	_, err = redisClient.Ping(context.Background()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return redisClient, nil
}

func localCredentials() credentials.StaticCredentialsProvider {
	return credentials.NewStaticCredentialsProvider(
		getenv("AWS_ACCESS_KEY_ID", "x"),
		getenv("AWS_SECRET_ACCESS_KEY", "x"),
		"",
	)
}

// getenv retrieves the value of the environment variable named by the key.
func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func parseBoolean(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}
