package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

type fakeEC2 struct {
	instances ec2.DescribeInstancesOutput
	volumes   ec2.DescribeVolumesOutput
	err       error
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &f.instances, nil
}

func (f *fakeEC2) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &f.volumes, nil
}

type fakeS3 struct {
	buckets s3.ListBucketsOutput
}

func (f *fakeS3) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	return &f.buckets, nil
}

type fakeRDS struct {
	databases rds.DescribeDBInstancesOutput
}

func (f *fakeRDS) DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	return &f.databases, nil
}

func TestDiscoverNormalizesRecords(t *testing.T) {
	source := &AWSSource{
		ec2Client: &fakeEC2{
			instances: ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{
					Instances: []ec2types.Instance{{
						InstanceId:      aws.String("i-0abc123"),
						InstanceType:    ec2types.InstanceTypeT3Micro,
						PublicIpAddress: aws.String("54.1.2.3"),
						MetadataOptions: &ec2types.InstanceMetadataOptionsResponse{
							HttpTokens: ec2types.HttpTokensStateOptional,
						},
						Tags: []ec2types.Tag{{Key: aws.String("Team"), Value: aws.String("core")}},
					}},
				}},
			},
			volumes: ec2.DescribeVolumesOutput{
				Volumes: []ec2types.Volume{{
					VolumeId:   aws.String("vol-0def456"),
					VolumeType: ec2types.VolumeTypeGp2,
					Size:       aws.Int32(100),
					Encrypted:  aws.Bool(false),
				}},
			},
		},
		s3Client: &fakeS3{
			buckets: s3.ListBucketsOutput{
				Buckets: []s3types.Bucket{{Name: aws.String("acme-logs")}},
			},
		},
		rdsClient: &fakeRDS{
			databases: rds.DescribeDBInstancesOutput{
				DBInstances: []rdstypes.DBInstance{{
					DBInstanceIdentifier:  aws.String("orders-db"),
					DBInstanceClass:       aws.String("db.t3.micro"),
					PubliclyAccessible:    aws.Bool(true),
					StorageEncrypted:      aws.Bool(false),
					BackupRetentionPeriod: aws.Int32(1),
					AllocatedStorage:      aws.Int32(20),
				}},
			},
		},
		logger: zerolog.Nop(),
	}

	records, err := source.Discover(context.Background(), "us-east-1")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records = %d, want 4", len(records))
	}

	byRef := map[string]Record{}
	for _, r := range records {
		byRef[r.Ref()] = r
	}

	inst, ok := byRef["aws_instance.i-0abc123"]
	if !ok {
		t.Fatal("instance record missing")
	}
	if inst.Properties["instance_type"] != "t3.micro" {
		t.Errorf("instance_type = %v", inst.Properties["instance_type"])
	}
	if inst.Properties["associate_public_ip_address"] != true {
		t.Error("public instance not flagged")
	}
	opts, ok := inst.Properties["metadata_options"].(map[string]interface{})
	if !ok || opts["http_tokens"] != "optional" {
		t.Errorf("metadata_options = %v", inst.Properties["metadata_options"])
	}

	vol := byRef["aws_ebs_volume.vol-0def456"]
	if vol.Properties["type"] != "gp2" || vol.Properties["size"] != float64(100) {
		t.Errorf("volume properties = %v", vol.Properties)
	}
	if _, tagged := vol.Properties["tags"]; tagged {
		t.Error("untagged volume carries a tags property")
	}

	db := byRef["aws_db_instance.orders-db"]
	if db.Properties["publicly_accessible"] != true {
		t.Errorf("database properties = %v", db.Properties)
	}
	if db.Properties["backup_retention_period"] != float64(1) {
		t.Errorf("backup_retention_period = %v", db.Properties["backup_retention_period"])
	}

	bucket := byRef["aws_s3_bucket.acme-logs"]
	if bucket.Properties["bucket"] != "acme-logs" {
		t.Errorf("bucket properties = %v", bucket.Properties)
	}
}

func TestDiscoverFailsWhole(t *testing.T) {
	source := &AWSSource{
		ec2Client: &fakeEC2{err: errors.New("throttled")},
		s3Client:  &fakeS3{},
		rdsClient: &fakeRDS{},
		logger:    zerolog.Nop(),
	}

	if _, err := source.Discover(context.Background(), "us-east-1"); err == nil {
		t.Fatal("expected discovery to fail when a listing fails")
	}
}
