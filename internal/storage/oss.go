package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/aliyun/credentials-go/credentials"
)

// OSSOptions configures an OSSStore.
type OSSOptions struct {
	Bucket   string
	Region   string
	Endpoint string
	// PublicBaseURL is prepended to object keys in asset URLs. Defaults to the
	// virtual-hosted bucket URL.
	PublicBaseURL string
	Prefix        string
}

// OSSStore keeps assets in an Alibaba Cloud OSS bucket. Credentials come from the default
// provider chain (environment keys, RAM role or OIDC).
type OSSStore struct {
	bucket  *oss.Bucket
	cred    credentials.Credential
	prefix  string
	baseURL string
}

func NewOSSStore(opts OSSOptions) (*OSSStore, error) {
	bucketName := strings.TrimSpace(opts.Bucket)
	endpoint := strings.TrimSpace(opts.Endpoint)
	if bucketName == "" || endpoint == "" {
		return nil, errors.New("storage: oss bucket and endpoint are required")
	}

	cred, err := credentials.NewCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("storage: oss credentials: %w", err)
	}

	clientOpts := []oss.ClientOption{oss.SetCredentialsProvider(&credentialsProvider{cred: cred})}
	if region := strings.TrimSpace(opts.Region); region != "" {
		clientOpts = append(clientOpts, oss.AuthVersion(oss.AuthV4), oss.Region(region))
	}
	client, err := oss.New(endpoint, "", "", clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: oss client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("storage: oss bucket: %w", err)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/")
	if baseURL == "" {
		host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
		baseURL = "https://" + bucketName + "." + host
	}
	return &OSSStore{
		bucket:  bucket,
		cred:    cred,
		prefix:  strings.Trim(strings.TrimSpace(opts.Prefix), "/"),
		baseURL: baseURL,
	}, nil
}

func (s *OSSStore) objectKey(key string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return cleanKey, nil
	}
	return path.Join(s.prefix, cleanKey), nil
}

// Write uploads data and returns the cleaned key, without the bucket prefix.
func (s *OSSStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	objectKey, _ := s.objectKey(cleanKey)
	var opts []oss.Option
	if ct := mime.TypeByExtension(path.Ext(cleanKey)); ct != "" {
		opts = append(opts, oss.ContentType(ct))
	}
	if err := s.bucket.PutObject(objectKey, bytes.NewReader(data), opts...); err != nil {
		return "", fmt.Errorf("storage: oss put %s: %w", objectKey, err)
	}
	return cleanKey, nil
}

func (s *OSSStore) Open(key string) (io.ReadCloser, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	return s.bucket.GetObject(objectKey)
}

func (s *OSSStore) URL(key string) string {
	objectKey, err := s.objectKey(key)
	if err != nil {
		objectKey = key
	}
	return s.baseURL + "/" + objectKey
}

// credentialsProvider adapts a credentials-go chain to the OSS SDK provider interface.
type credentialsProvider struct {
	cred credentials.Credential
}

type ossCredentials struct {
	keyID, secret, token string
}

func (c *ossCredentials) GetAccessKeyID() string     { return c.keyID }
func (c *ossCredentials) GetAccessKeySecret() string { return c.secret }
func (c *ossCredentials) GetSecurityToken() string   { return c.token }

func (p *credentialsProvider) GetCredentials() oss.Credentials {
	out, err := p.cred.GetCredential()
	if err != nil || out == nil {
		// The SDK interface has no error return; empty keys make the request fail loudly.
		return &ossCredentials{}
	}
	return &ossCredentials{keyID: deref(out.AccessKeyId), secret: deref(out.AccessKeySecret), token: deref(out.SecurityToken)}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
