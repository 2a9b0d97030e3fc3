package s3store

import (
	"fmt"
	"strings"
)

// Providers understood by Resolve.
const (
	ProviderAWS   = "aws"
	ProviderMinIO = "minio"
	ProviderR2    = "r2"
)

// Standard AWS S3 regional endpoints.
var awsEndpoints = map[string]string{
	"us-east-1":      "s3.amazonaws.com",
	"us-east-2":      "s3.us-east-2.amazonaws.com",
	"us-west-1":      "s3.us-west-1.amazonaws.com",
	"us-west-2":      "s3.us-west-2.amazonaws.com",
	"eu-west-1":      "s3.eu-west-1.amazonaws.com",
	"eu-west-2":      "s3.eu-west-2.amazonaws.com",
	"eu-west-3":      "s3.eu-west-3.amazonaws.com",
	"eu-central-1":   "s3.eu-central-1.amazonaws.com",
	"eu-north-1":     "s3.eu-north-1.amazonaws.com",
	"ap-northeast-1": "s3.ap-northeast-1.amazonaws.com",
	"ap-northeast-2": "s3.ap-northeast-2.amazonaws.com",
	"ap-southeast-1": "s3.ap-southeast-1.amazonaws.com",
	"ap-southeast-2": "s3.ap-southeast-2.amazonaws.com",
	"ap-south-1":     "s3.ap-south-1.amazonaws.com",
	"ca-central-1":   "s3.ca-central-1.amazonaws.com",
	"sa-east-1":      "s3.sa-east-1.amazonaws.com",
}

// Endpoint is the resolved addressing for one provider.
type Endpoint struct {
	URL          string // empty means the SDK default for Region
	Region       string
	UsePathStyle bool
}

// Resolve applies provider defaults to the configured endpoint and region.
func Resolve(provider, endpoint, region, accountID string, usePathStyle bool) (Endpoint, error) {
	switch strings.ToLower(provider) {
	case "", ProviderAWS:
		if region == "" {
			region = "us-east-1"
		}
		if endpoint == "" && !IsSupportedAWSRegion(region) {
			return Endpoint{}, fmt.Errorf("unknown AWS region: %s", region)
		}
		return Endpoint{URL: withScheme(endpoint, true), Region: region, UsePathStyle: usePathStyle}, nil

	case ProviderMinIO:
		if endpoint == "" {
			return Endpoint{}, fmt.Errorf("minio endpoint is required")
		}
		if region == "" {
			region = "us-east-1" // MinIO ignores regions but the signer needs one
		}
		// MinIO requires path-style URLs (endpoint/bucket/key)
		return Endpoint{URL: withScheme(endpoint, false), Region: region, UsePathStyle: true}, nil

	case ProviderR2:
		if endpoint == "" {
			if !IsValidR2AccountID(accountID) {
				return Endpoint{}, fmt.Errorf("invalid R2 account id %q", accountID)
			}
			endpoint = R2EndpointForAccount(accountID)
		}
		return Endpoint{URL: withScheme(endpoint, true), Region: "auto", UsePathStyle: usePathStyle}, nil

	default:
		return Endpoint{}, fmt.Errorf("unknown s3 provider %q", provider)
	}
}

func withScheme(endpoint string, secure bool) string {
	if endpoint == "" {
		return ""
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if secure {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// AWSEndpointForRegion returns the S3 endpoint for a given region.
func AWSEndpointForRegion(region string) (string, error) {
	endpoint, ok := awsEndpoints[region]
	if !ok {
		return "", fmt.Errorf("unknown AWS region: %s", region)
	}
	return endpoint, nil
}

// IsSupportedAWSRegion checks if a region is known.
func IsSupportedAWSRegion(region string) bool {
	_, ok := awsEndpoints[region]
	return ok
}

// R2EndpointForAccount returns the R2 endpoint for a given account ID.
func R2EndpointForAccount(accountID string) string {
	return fmt.Sprintf("%s.r2.cloudflarestorage.com", accountID)
}

// IsValidR2AccountID reports whether accountID looks like a Cloudflare account id
// (32 hex characters).
func IsValidR2AccountID(accountID string) bool {
	if len(accountID) != 32 {
		return false
	}
	for _, c := range accountID {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
