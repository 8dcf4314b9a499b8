package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // Register WEBP decoder
)

// Source is one image to scan, given either as a file path or in-memory bytes
type Source struct {
	Path        string
	Name        string
	Data        []byte
	ContentType string
}

// FileSource returns a Source reading from path
func FileSource(path string) Source {
	return Source{Path: path, Name: filepath.Base(path)}
}

// BytesSource returns a Source backed by data
func BytesSource(name string, data []byte, contentType string) Source {
	return Source{Name: name, Data: data, ContentType: contentType}
}

// Image is a decoded image normalized to PNG
type Image struct {
	PNG         []byte
	ContentType string // content type of the original data
}

// ImageLoader turns a Source into an Image usable by every extractor
type ImageLoader struct {
	heic bool
	pdf  bool
}

// NewImageLoader creates an ImageLoader. HEIC/HEIF and PDF decoding are optional
// capabilities; when disabled those inputs fail with ErrUnsupportedFormat.
func NewImageLoader(heicEnabled, pdfEnabled bool) *ImageLoader {
	return &ImageLoader{heic: heicEnabled, pdf: pdfEnabled}
}

// Load reads and decodes the source
func (l *ImageLoader) Load(src Source) (*Image, error) {
	data := src.Data
	if src.Path != "" {
		var err error
		data, err = os.ReadFile(src.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, src.Path)
			}
			return nil, fmt.Errorf("reading image: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", ErrUnsupportedFormat)
	}

	contentType := detectContentType(data, src.ContentType)
	pngData, err := l.toPNG(data, contentType)
	if err != nil {
		return nil, err
	}

	return &Image{PNG: pngData, ContentType: contentType}, nil
}

func (l *ImageLoader) toPNG(data []byte, contentType string) ([]byte, error) {
	switch {
	case contentType == "application/pdf":
		if !l.pdf {
			return nil, fmt.Errorf("%w: PDF support is disabled", ErrUnsupportedFormat)
		}
		return pdfToImage(data)
	case isHEICMimeType(contentType):
		if !l.heic {
			return nil, fmt.Errorf("%w: HEIC/HEIF support is disabled", ErrUnsupportedFormat)
		}
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return encodePNG(img)
	case contentType == "image/png":
		// Already PNG, just make sure it decodes
		if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w (%s). Supported formats: PNG, JPEG, GIF, WEBP, HEIC, HEIF, PDF", ErrUnsupportedFormat, contentType)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return encodePNG(img)
}

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// detectContentType prefers what the bytes say over the declared type
func detectContentType(data []byte, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}

	if isHEICFormat(data) {
		return "image/heic"
	}
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return sniffed
}

// isHEICFormat checks the ftyp box brand used by HEIC/HEIF files
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
