package invoke

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Environment is the process-level data copied onto every context.
type Environment struct {
	FunctionName    string `json:"function_name" yaml:"function_name"`
	FunctionVersion string `json:"function_version" yaml:"function_version"`
	MemoryLimitInMB string `json:"memory_limit_mb" yaml:"memory_limit_mb"`
	LogGroupName    string `json:"log_group_name" yaml:"log_group_name"`
	LogStreamName   string `json:"log_stream_name" yaml:"log_stream_name"`

	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"-" yaml:"-"`
	SecretAccessKey string `json:"-" yaml:"-"`
	SessionToken    string `json:"-" yaml:"-"`
}

// Environment returns the process data the context was built with.
func (c *Context) Environment() Environment {
	return c.env
}

// AWSConfig loads an SDK configuration for handler code, using the
// execution-role credentials the platform injected when present.
func (c *Context) AWSConfig(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.env.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.env.Region))
	}
	if c.env.AccessKeyID != "" && c.env.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.env.AccessKeyID, c.env.SecretAccessKey, c.env.SessionToken),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}
