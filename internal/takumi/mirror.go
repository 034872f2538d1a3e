package takumi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorClient wraps an S3-compatible client for publishing the artifact
// repository to a binary mirror.
type MirrorClient struct {
	Client     *s3.Client
	BucketName string
	KeyPrefix  string
}

// NewMirrorClient initializes the mirror client from configuration values.
func NewMirrorClient(cfg *Config) (*MirrorClient, error) {
	endpoint := cfg.Values["TAKUMI_MIRROR_ENDPOINT"]
	region := cfg.Values["TAKUMI_MIRROR_REGION"]
	accessKey := cfg.Values["TAKUMI_MIRROR_ACCESS_KEY"]
	secretKey := cfg.Values["TAKUMI_MIRROR_SECRET_KEY"]
	bucket := cfg.Values["TAKUMI_MIRROR_BUCKET"]

	if accessKey == "" || secretKey == "" || bucket == "" {
		return nil, fmt.Errorf("%w: mirror credentials missing (TAKUMI_MIRROR_ACCESS_KEY, TAKUMI_MIRROR_SECRET_KEY, TAKUMI_MIRROR_BUCKET)", ErrConfiguration)
	}
	if region == "" {
		region = "auto"
	}

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion(region),
	}
	if Debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &MirrorClient{
		Client:     client,
		BucketName: bucket,
		KeyPrefix:  cfg.Values["TAKUMI_MIRROR_PREFIX"],
	}, nil
}

// UploadLocalFile uploads a file from disk to the mirror bucket.
func (m *MirrorClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".txt") {
		contentType = "text/plain"
	}

	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType),
	})
	return err
}

// PublishRepo uploads every artifact in the output repository plus a plain
// text index listing what the mirror carries.
func (m *MirrorClient) PublishRepo(ctx context.Context, repoDir string) error {
	matches, err := filepath.Glob(filepath.Join(repoDir, "*.pkg"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no artifacts found in %s", repoDir)
	}
	sort.Strings(matches)

	var index strings.Builder
	for _, artifact := range matches {
		name := filepath.Base(artifact)
		key := name
		if m.KeyPrefix != "" {
			key = m.KeyPrefix + "/" + name
		}

		colArrow.Print("-> ")
		colSuccess.Printf("Uploading %s\n", name)
		if err := m.UploadLocalFile(ctx, key, artifact); err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
		index.WriteString(name + "\n")
	}

	indexKey := "index.txt"
	if m.KeyPrefix != "" {
		indexKey = m.KeyPrefix + "/index.txt"
	}
	indexPath := filepath.Join(repoDir, "index.txt")
	if err := os.WriteFile(indexPath, []byte(index.String()), 0o644); err != nil {
		return err
	}
	if err := m.UploadLocalFile(ctx, indexKey, indexPath); err != nil {
		return fmt.Errorf("failed to upload index: %w", err)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Published %d artifacts to %s\n", len(matches), m.BucketName)
	return nil
}
