package inventory

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/terravet/terravet/pkg/telemetry"
)

// Narrow views of the AWS service clients, kept small so tests can
// stand in fakes.
type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
}

type s3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

type rdsAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// AWSSource discovers EC2 instances, EBS volumes, S3 buckets, and RDS
// database instances and normalizes them into policy-ready records.
type AWSSource struct {
	ec2Client ec2API
	s3Client  s3API
	rdsClient rdsAPI
	logger    zerolog.Logger
}

// NewAWSSource builds a source from the default AWS credential chain.
func NewAWSSource(ctx context.Context, region string, logger zerolog.Logger) (*AWSSource, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &AWSSource{
		ec2Client: ec2.NewFromConfig(cfg),
		s3Client:  s3.NewFromConfig(cfg),
		rdsClient: rds.NewFromConfig(cfg),
		logger:    telemetry.ComponentLogger(logger, "inventory"),
	}, nil
}

// Discover lists all supported resource kinds in the region.
func (s *AWSSource) Discover(ctx context.Context, region string) ([]Record, error) {
	var records []Record

	instances, err := s.discoverInstances(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	records = append(records, instances...)

	volumes, err := s.discoverVolumes(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	records = append(records, volumes...)

	buckets, err := s.discoverBuckets(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	records = append(records, buckets...)

	databases, err := s.discoverDatabases(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	records = append(records, databases...)

	s.logger.Info().
		Str("region", region).
		Int("resources", len(records)).
		Msg("inventory discovered")

	return records, nil
}

func (s *AWSSource) discoverInstances(ctx context.Context, region string) ([]Record, error) {
	var records []Record
	var nextToken *string
	for {
		output, err := s.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}
		for _, reservation := range output.Reservations {
			for _, inst := range reservation.Instances {
				props := map[string]interface{}{
					"instance_type": string(inst.InstanceType),
				}
				if inst.PublicIpAddress != nil {
					props["associate_public_ip_address"] = true
				}
				if inst.MetadataOptions != nil {
					props["metadata_options"] = map[string]interface{}{
						"http_tokens": string(inst.MetadataOptions.HttpTokens),
					}
				}
				if tags := tagMap(len(inst.Tags), func(i int) (string, string) {
					return aws.ToString(inst.Tags[i].Key), aws.ToString(inst.Tags[i].Value)
				}); tags != nil {
					props["tags"] = tags
				}
				records = append(records, Record{
					Type:       "aws_instance",
					Name:       aws.ToString(inst.InstanceId),
					Region:     region,
					Properties: props,
				})
			}
		}
		if output.NextToken == nil {
			return records, nil
		}
		nextToken = output.NextToken
	}
}

func (s *AWSSource) discoverVolumes(ctx context.Context, region string) ([]Record, error) {
	var records []Record
	var nextToken *string
	for {
		output, err := s.ec2Client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}
		for _, vol := range output.Volumes {
			props := map[string]interface{}{
				"type": string(vol.VolumeType),
				"size": float64(aws.ToInt32(vol.Size)),
			}
			if vol.Encrypted != nil {
				props["encrypted"] = *vol.Encrypted
			}
			if tags := tagMap(len(vol.Tags), func(i int) (string, string) {
				return aws.ToString(vol.Tags[i].Key), aws.ToString(vol.Tags[i].Value)
			}); tags != nil {
				props["tags"] = tags
			}
			records = append(records, Record{
				Type:       "aws_ebs_volume",
				Name:       aws.ToString(vol.VolumeId),
				Region:     region,
				Properties: props,
			})
		}
		if output.NextToken == nil {
			return records, nil
		}
		nextToken = output.NextToken
	}
}

func (s *AWSSource) discoverBuckets(ctx context.Context, region string) ([]Record, error) {
	output, err := s.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, bucket := range output.Buckets {
		name := aws.ToString(bucket.Name)
		records = append(records, Record{
			Type:   "aws_s3_bucket",
			Name:   name,
			Region: region,
			Properties: map[string]interface{}{
				"bucket": name,
			},
		})
	}
	return records, nil
}

func (s *AWSSource) discoverDatabases(ctx context.Context, region string) ([]Record, error) {
	var records []Record
	var marker *string
	for {
		output, err := s.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return nil, err
		}
		for _, db := range output.DBInstances {
			props := map[string]interface{}{
				"instance_class":          aws.ToString(db.DBInstanceClass),
				"publicly_accessible":     aws.ToBool(db.PubliclyAccessible),
				"storage_encrypted":       aws.ToBool(db.StorageEncrypted),
				"backup_retention_period": float64(aws.ToInt32(db.BackupRetentionPeriod)),
				"allocated_storage":       float64(aws.ToInt32(db.AllocatedStorage)),
			}
			records = append(records, Record{
				Type:       "aws_db_instance",
				Name:       aws.ToString(db.DBInstanceIdentifier),
				Region:     region,
				Properties: props,
			})
		}
		if output.Marker == nil {
			return records, nil
		}
		marker = output.Marker
	}
}

// tagMap converts an AWS tag list into the nested map shape policy
// checks expect. Returns nil when there are no tags so the tagging
// policy sees the resource as untagged.
func tagMap(n int, at func(int) (string, string)) map[string]interface{} {
	if n == 0 {
		return nil
	}
	tags := make(map[string]interface{}, n)
	for i := 0; i < n; i++ {
		k, v := at(i)
		tags[k] = v
	}
	return tags
}
