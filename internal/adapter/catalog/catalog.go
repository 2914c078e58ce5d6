// Package catalog resolves the symbol universe the price collectors iterate.
// The authoritative list is a CSV object in the object store; a static list
// from configuration serves as fallback so a missing object degrades the
// cycle instead of aborting it.
package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ObjectGetter fetches one raw object from the store.
type ObjectGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Catalog loads symbols from a CSV object with a header row containing a
// "symbol" column.
type Catalog struct {
	getter    ObjectGetter
	objectKey string
	static    []string
	logger    *slog.Logger
}

// New builds a catalog. getter may be nil when only the static list is
// configured.
func New(getter ObjectGetter, objectKey string, static []string, logger *slog.Logger) *Catalog {
	return &Catalog{
		getter:    getter,
		objectKey: objectKey,
		static:    static,
		logger:    logger.With("component", "symbol_catalog"),
	}
}

// Symbols returns the current symbol universe.
func (c *Catalog) Symbols(ctx context.Context) ([]string, error) {
	if c.getter == nil || c.objectKey == "" {
		if len(c.static) > 0 {
			return c.static, nil
		}
		return nil, errors.New("no symbol source configured")
	}

	data, err := c.getter.Get(ctx, c.objectKey)
	if err != nil {
		return c.fallback(fmt.Errorf("fetch %s: %w", c.objectKey, err))
	}
	symbols, err := parseSymbolsCSV(data)
	if err != nil {
		return c.fallback(fmt.Errorf("parse %s: %w", c.objectKey, err))
	}
	if len(symbols) == 0 {
		return c.fallback(fmt.Errorf("catalog object %s lists no symbols", c.objectKey))
	}
	return symbols, nil
}

func (c *Catalog) fallback(cause error) ([]string, error) {
	if len(c.static) > 0 {
		c.logger.Warn("catalog object unavailable, using static symbol list",
			"error", cause, "static_count", len(c.static))
		return c.static, nil
	}
	return nil, cause
}

// parseSymbolsCSV extracts the "symbol" column (case-insensitive header).
func parseSymbolsCSV(data []byte) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true
	// Rows with extra or missing trailing columns still carry a usable symbol.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "symbol") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, errors.New(`csv has no "symbol" column`)
	}

	var symbols []string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if col >= len(row) {
			continue
		}
		if s := strings.TrimSpace(row[col]); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols, nil
}

// MinioGetter reads objects from a MinIO/S3 bucket.
type MinioGetter struct {
	Client *minio.Client
	Bucket string
}

func (g *MinioGetter) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := g.Client.GetObject(ctx, g.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
