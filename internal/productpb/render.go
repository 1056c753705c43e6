package productpb

import (
	"io"
	"os"
	"path/filepath"

	"github.com/jhump/protoreflect/v2/protoprint"
)

// Render writes the products contract as .proto source to w.
func Render(w io.Writer) error {
	s, err := Load()
	if err != nil {
		return err
	}
	pp := protoprint.Printer{}
	return pp.PrintProtoFile(s.File, w)
}

// RenderDir writes the products contract to outDir/products.proto and
// returns the path written.
func RenderDir(outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	fp := filepath.Join(outDir, FilePath)
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}
	if err := Render(f); err != nil {
		f.Close()
		return "", err
	}
	return fp, f.Close()
}
