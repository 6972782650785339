// Package media は推薦動画ファイルの検証と、推薦に含まれるメディアURLの安全なダウンロードを提供する。
//
// ダウンロード先のURLはバックエンドから渡される外部入力のため、
// safeurlでプライベートネットワークへの接続をブロックする。
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/clientalio/internal/model"
)

// DefaultMaxSize はアップロード・ダウンロードできる動画の上限サイズ（100MB）。
const DefaultMaxSize int64 = 100 * 1024 * 1024

// allowedSchemes は許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は事前検証でブロックするネットワーク範囲。
// 接続時の検証はsafeurlのDialerが行う。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // クラウドメタデータIPを含む
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// Downloader はメディアURLをダウンロードする。
type Downloader struct {
	client  *http.Client
	maxSize int64
	logger  *slog.Logger
	// テスト用にループバックへの接続を許可するため事前検証を差し替え可能
	validate func(rawURL string) error
}

// NewDownloader はsafeurlのクライアントを使うDownloaderを生成する。
// http/httpsかつポート80/443のみ許可し、プライベートIPやループバックへの接続はブロックされる。
func NewDownloader(timeout time.Duration, maxSize int64, logger *slog.Logger) *Downloader {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return newDownloader(safeurl.Client(config).Client, maxSize, logger, ValidateURL)
}

func newDownloader(client *http.Client, maxSize int64, logger *slog.Logger, validate func(string) error) *Downloader {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{client: client, maxSize: maxSize, logger: logger, validate: validate}
}

// Download はURLの内容をwに書き込み、書き込んだバイト数を返す。
// 上限サイズを超える場合は途中で打ち切りエラーを返す。
func (d *Downloader) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	if err := d.validate(rawURL); err != nil {
		return 0, model.NewValidationError(fmt.Sprintf("Refusing to download: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("media download failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return 0, model.NewTransportError("Failed to download media", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.logger.Warn("media download returned non-200",
			slog.String("url", rawURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return 0, model.NewBackendRejectedError(fmt.Sprintf("Media server returned %d", resp.StatusCode), resp.StatusCode)
	}

	if resp.ContentLength > d.maxSize {
		return 0, model.NewValidationError(tooLargeMessage(d.maxSize))
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return n, model.NewTransportError("Failed to download media", err)
	}
	if n > d.maxSize {
		return n, model.NewValidationError(tooLargeMessage(d.maxSize))
	}

	d.logger.Info("media downloaded",
		slog.String("url", rawURL),
		slog.Int64("bytes", n),
	)
	return n, nil
}

// ValidateURL はDNS解決を伴わない静的なURL検証を行う。
// 接続時のIP検証（DNS再バインディング対策）はsafeurlのクライアントが行う。
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
