package storage

// KnownS3Endpoints lists the AWS S3 endpoints a site may be published to
// without a custom base endpoint.
var KnownS3Endpoints = []string{
	"s3.amazonaws.com",
	"s3-external-1.amazonaws.com",
	"s3-us-west-2.amazonaws.com",
	"s3-us-west-1.amazonaws.com",
	"s3-eu-west-1.amazonaws.com",
	"s3.eu-central-1.amazonaws.com",
	"s3-eu-central-1.amazonaws.com",
	"s3-ap-southeast-1.amazonaws.com",
	"s3-ap-southeast-2.amazonaws.com",
	"s3-ap-northeast-1.amazonaws.com",
	"s3-sa-east-1.amazonaws.com",
}

// IsKnownS3Endpoint reports whether endpoint is one of KnownS3Endpoints
func IsKnownS3Endpoint(endpoint string) bool {
	for _, known := range KnownS3Endpoints {
		if endpoint == known {
			return true
		}
	}
	return false
}
