// Package attachment validates and stores files uploaded with messages.
package attachment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/GetStream/direct-messaging/chat"
)

// MaxSize is the largest accepted upload in bytes.
const MaxSize = 10 << 20

// sniffLen is how many leading bytes are used to detect the media type.
const sniffLen = 3072

var (
	ErrTooLarge   = chat.Errorf(chat.KindInvalidInput, "File too large. Maximum size is 10MB.")
	ErrNotAllowed = chat.Errorf(chat.KindInvalidInput, "File type not allowed")
	ErrNoFile     = chat.Errorf(chat.KindInvalidInput, "No file uploaded")
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".txt":  true,
	".csv":  true,
}

var allowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"application/msword",
	"application/x-ole-storage",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
	"text/csv",
}

// allowedType reports whether m or one of its parents is on the allow-list.
// Walking the parents accepts specialised text formats as text/plain.
func allowedType(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		for _, t := range allowedTypes {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}

// A File is an accepted and stored upload.
type File struct {
	Attachment chat.Attachment
	Type       chat.MessageType
	MediaType  string
}

// Pipeline stores uploads on disk under Dir and serves them under PublicPath.
type Pipeline struct {
	Logger     *slog.Logger
	Dir        string
	PublicPath string
	MaxSize    int64
}

func (p *Pipeline) maxSize() int64 {
	if p.MaxSize > 0 {
		return p.MaxSize
	}
	return MaxSize
}

// Store validates the upload read from r and writes it under a generated name.
// filename is the name the client gave the file.
func (p *Pipeline) Store(ctx context.Context, filename string, r io.Reader) (File, error) {
	if r == nil || filename == "" {
		return File{}, ErrNoFile
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return File{}, ErrNotAllowed
	}

	limit := p.maxSize()
	br := bufio.NewReaderSize(io.LimitReader(r, limit+1), sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return File{}, fmt.Errorf("could not read upload: %w", err)
	}
	if len(head) == 0 {
		return File{}, ErrNoFile
	}
	mime := mimetype.Detect(head)
	if !allowedType(mime) {
		p.Logger.Debug("Upload rejected", "filename", filename, "media_type", mime.String())
		return File{}, ErrNotAllowed
	}

	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return File{}, fmt.Errorf("could not create upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(p.Dir, ".upload-*")
	if err != nil {
		return File{}, fmt.Errorf("could not create upload: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, br)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return File{}, fmt.Errorf("could not write upload: %w", err)
	}
	if n > limit {
		p.Logger.Debug("Upload rejected", "filename", filename, "size", humanize.IBytes(uint64(n)))
		return File{}, ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return File{}, err
	}

	name := uuid.NewString() + ext
	if err := os.Rename(tmp.Name(), filepath.Join(p.Dir, name)); err != nil {
		return File{}, fmt.Errorf("could not store upload: %w", err)
	}
	p.Logger.Info("Upload stored", "name", name, "media_type", mime.String(), "size", humanize.IBytes(uint64(n)))

	typ := chat.TypeFile
	if strings.HasPrefix(mime.String(), "image/") {
		typ = chat.TypeImage
	}
	return File{
		Attachment: chat.Attachment{
			Name: filepath.Base(filename),
			URL:  path.Join(p.publicPath(), name),
			Size: n,
		},
		Type:      typ,
		MediaType: mime.String(),
	}, nil
}

func (p *Pipeline) publicPath() string {
	if p.PublicPath == "" {
		return "/uploads"
	}
	return p.PublicPath
}

// Remove deletes a stored upload by its public URL.
func (p *Pipeline) Remove(url string) error {
	name := path.Base(url)
	if name == "." || name == "/" {
		return nil
	}
	if err := os.Remove(filepath.Join(p.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not remove upload: %w", err)
	}
	return nil
}
