package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

// UploadImages uploads up to limit images of folder, in file name order, and
// returns the hosted URLs. Individual failures are skipped; an error is
// returned only when nothing could be uploaded.
func (c *Client) UploadImages(ctx context.Context, folder string, limit int) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("upload images: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && domain.IsImageFile(e.Name()) {
			files = append(files, filepath.Join(folder, e.Name()))
		}
	}
	sort.Strings(files)
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	if len(files) == 0 {
		return nil, errors.New("upload images: no images in folder")
	}

	urls := make([]string, 0, len(files))
	var errs []error
	for _, f := range files {
		u, err := c.UploadImage(ctx, f)
		if err != nil {
			c.logger.Warn("image upload failed", "file", filepath.Base(f), "error", err)
			errs = append(errs, err)
			continue
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("upload images: %w", errors.Join(errs...))
	}
	return urls, nil
}

// UploadImage uploads one file and returns its hosted URL.
func (c *Client) UploadImage(ctx context.Context, file string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filepath.Base(file)))
	h.Set("Content-Type", imageContentType(file))
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.media+"/commerce/media/v1_beta/image/create_image_from_file", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(c.user, req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", readAPIError("upload image", resp)
	}

	var out struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("upload image: decode: %w", err)
	}
	if out.ImageURL != "" {
		return out.ImageURL, nil
	}

	// Some responses only carry a Location header pointing at the image resource.
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", errors.New("upload image: response has no image url")
	}
	return c.imageURL(ctx, path.Base(loc))
}

func (c *Client) imageURL(ctx context.Context, imageID string) (string, error) {
	var out struct {
		ImageURL string `json:"imageUrl"`
	}
	u := c.media + "/commerce/media/v1_beta/image/" + imageID
	if err := c.doJSON(ctx, c.user, "get image", http.MethodGet, u, nil, &out, http.StatusOK); err != nil {
		return "", err
	}
	if out.ImageURL == "" {
		return "", fmt.Errorf("get image %s: empty image url", imageID)
	}
	return out.ImageURL, nil
}

func imageContentType(file string) string {
	ext := strings.ToLower(filepath.Ext(file))
	if ct := mime.TypeByExtension(ext); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}
