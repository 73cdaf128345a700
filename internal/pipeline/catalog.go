package pipeline

import (
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Catalog columns.
const (
	ColumnURL          = "video_url"
	ColumnTitle        = "video_title"
	ColumnTopic        = "topic"
	ColumnQuality      = "mi_quality"
	ColumnTranscriptID = "transcript_id"
)

// Video is one row of the video catalog.
type Video struct {
	URL          string
	Title        string
	Topic        string
	Quality      string
	TranscriptID string
}

// ID returns the stable record id for the video.
func (v Video) ID() string {
	return VideoID(v.URL)
}

// VideoID returns the hex md5 of source. Ids stay stable across runs so
// already stored videos can be skipped.
func VideoID(source string) string {
	sum := md5.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// LoadCatalog reads a video catalog CSV file.
func LoadCatalog(path string) ([]Video, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	videos, err := ReadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return videos, nil
}

// ReadCatalog parses a catalog with a header row. Only video_url is
// required; rows without one are skipped and the first row per URL wins.
func ReadCatalog(r io.Reader) ([]Video, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, err
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}
	if _, ok := columns[ColumnURL]; !ok {
		return nil, fmt.Errorf("catalog has no %s column", ColumnURL)
	}

	get := func(row []string, col string) string {
		i, ok := columns[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var videos []Video
	seen := make(map[string]bool)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		url := get(row, ColumnURL)
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true

		v := Video{
			URL:          url,
			Title:        get(row, ColumnTitle),
			Topic:        get(row, ColumnTopic),
			Quality:      get(row, ColumnQuality),
			TranscriptID: get(row, ColumnTranscriptID),
		}
		if v.Title == "" {
			v.Title = url
		}
		videos = append(videos, v)
	}

	return videos, nil
}
