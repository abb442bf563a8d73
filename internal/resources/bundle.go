package resources

import (
	"io/fs"
	"os"
)

// Bundle fetches packaged blobs by logical name.
type Bundle interface {
	Fetch(name string) ([]byte, error)
}

// FSBundle serves blobs from a file system.
type FSBundle struct {
	fsys fs.FS
}

func NewFSBundle(fsys fs.FS) *FSBundle {
	return &FSBundle{fsys: fsys}
}

// NewDirBundle serves blobs from a directory on disk.
func NewDirBundle(dir string) *FSBundle {
	return NewFSBundle(os.DirFS(dir))
}

func (b *FSBundle) Fetch(name string) ([]byte, error) {
	return fs.ReadFile(b.fsys, name)
}

// Names are the logical names of the three bundled blobs.
type Names struct {
	Labels      string
	Model       string
	SampleImage string
}

func DefaultNames() Names {
	return Names{
		Labels:      "imagenet_classes.txt",
		Model:       "mobilenetv2-7.onnx",
		SampleImage: "SampleImages/dog.png",
	}
}
