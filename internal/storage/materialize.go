package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genorch/internal/domain"
)

const maxAssetBytes = 32 << 20

var assetNamespace = uuid.MustParse("9f1c2d4e-7b3a-4c5d-8e6f-0a1b2c3d4e5f")

// Materializer downloads provider outputs and stores them in a Store.
type Materializer struct {
	store      Store
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewPublicHTTPClient returns a client that only dials public addresses, so provider
// output URLs cannot reach loopback, private or link-local hosts.
func NewPublicHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil || !publicIP(ip) {
				return fmt.Errorf("%w: %s", errPrivateAddress, host)
			}
			return nil
		},
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

var errPrivateAddress = errors.New("refusing to download from non-public address")

func publicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() || ip.IsMulticast())
}

func NewMaterializer(store Store, httpClient *http.Client, logger zerolog.Logger) *Materializer {
	if httpClient == nil {
		httpClient = NewPublicHTTPClient(60 * time.Second)
	}
	return &Materializer{store: store, httpClient: httpClient, logger: logger, now: time.Now}
}

// AssetID derives the asset id of a job's output so re-materializing is idempotent.
func AssetID(jobID string, index int) string {
	return uuid.NewSHA1(assetNamespace, []byte(jobID+"/"+strconv.Itoa(index))).String()
}

// Materialize copies every output of a succeeded job and returns the stored assets.
func (m *Materializer) Materialize(ctx context.Context, job *domain.Job) ([]domain.Asset, error) {
	assets := make([]domain.Asset, 0, len(job.OutputRefs))
	for i, ref := range job.OutputRefs {
		data, mimeType, err := m.fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("storage: output %d of job %s: %w", i, job.ID, err)
		}
		key, err := m.store.Write(ctx, fmt.Sprintf("%s/%s/%d%s", job.OwnerID, job.ID, i, extension(mimeType)), data)
		if err != nil {
			return nil, err
		}
		source := ref
		if strings.HasPrefix(ref, "data:") {
			source = "inline"
		}
		assets = append(assets, domain.Asset{
			ID:         AssetID(job.ID, i),
			JobID:      job.ID,
			OwnerID:    job.OwnerID,
			SourceURL:  source,
			StorageKey: key,
			URL:        m.store.URL(key),
			MIME:       mimeType,
			Bytes:      int64(len(data)),
			CreatedAt:  m.now().UTC(),
		})
	}
	m.logger.Debug().Str("job_id", job.ID).Int("assets", len(assets)).Msg("outputs materialized")
	return assets, nil
}

func (m *Materializer) fetch(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURL(ref)
	}
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("invalid output url %q", ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read output: %w", err)
	}
	if len(data) > maxAssetBytes {
		return nil, "", errors.New("output exceeds size limit")
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	return data, mimeType, nil
}

func decodeDataURL(ref string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", errors.New("unsupported data url")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	mimeType := strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
