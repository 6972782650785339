package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/hitoshi/clientalio/internal/model"
)

// multipartForm はmultipart/form-dataで送信するフィールドとファイルの一覧。
// ファイルは送信時にストリーミングで読み込み、メモリに全体を載せない。
type multipartForm struct {
	parts []formPart
}

type formPart struct {
	name  string
	value string
	path  string
}

func newMultipartForm() *multipartForm {
	return &multipartForm{}
}

func (f *multipartForm) field(name, value string) {
	f.parts = append(f.parts, formPart{name: name, value: value})
}

func (f *multipartForm) file(name, path string) {
	f.parts = append(f.parts, formPart{name: name, path: path})
}

// check は送信前にファイルが読み取れることを確認する。
func (f *multipartForm) check() error {
	for _, p := range f.parts {
		if p.path == "" {
			continue
		}
		info, err := os.Stat(p.path)
		if err != nil {
			return model.NewValidationError(fmt.Sprintf("cannot read file %s", p.path))
		}
		if info.IsDir() {
			return model.NewValidationError(fmt.Sprintf("%s is a directory", p.path))
		}
	}
	return nil
}

func (f *multipartForm) write(mw *multipart.Writer) error {
	for _, p := range f.parts {
		if p.path == "" {
			if err := mw.WriteField(p.name, p.value); err != nil {
				return err
			}
			continue
		}
		if err := writeFilePart(mw, p.name, p.path); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFilePart(mw *multipart.Writer, field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filepath.Base(path)))
	h.Set("Content-Type", contentType)

	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, file)
	return err
}

// postMultipart はフォームをストリーミングでPOSTする。
func (c *Client) postMultipart(ctx context.Context, path string, form *multipartForm, fallback string, out any) (string, error) {
	if err := form.check(); err != nil {
		return "", err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(form.write(mw))
	}()
	// 送信前に失敗した場合も書き込み側のgoroutineを終了させる
	defer pr.Close()

	return c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		body:        pr,
		contentType: mw.FormDataContentType(),
		fallback:    fallback,
	}, out)
}
