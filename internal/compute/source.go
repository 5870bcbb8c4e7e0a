package compute

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
)

const (
	// DefaultKernelFile is read from the working directory when present.
	DefaultKernelFile = "kernel.cl"
	// DefaultBuildOptions selects the OpenCL C dialect the kernels are written in.
	DefaultBuildOptions = "-cl-std=CL1.2"

	KernelAdd   = "add"
	KernelNBody = "n_body_sim"
)

//go:embed kernel.cl
var embeddedKernelSource string

// EmbeddedKernelSource returns the kernel source compiled into the binary.
func EmbeddedKernelSource() string {
	return embeddedKernelSource
}

// LoadKernelSource reads kernel source text from path. An empty path, or the
// default file name when no such file exists, yields the embedded source.
func LoadKernelSource(path string) (string, error) {
	if path == "" {
		return embeddedKernelSource, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultKernelFile {
			slog.Debug("Kernel file not found, using embedded source", "path", path)
			return embeddedKernelSource, nil
		}
		return "", fmt.Errorf("failed to read kernel source: %w", err)
	}

	slog.Debug("Loaded kernel source", "path", path, "bytes", len(data))
	return string(data), nil
}

var kernelDeclRe = regexp.MustCompile(`(?:__kernel|\bkernel)\s+void\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
var lineCommentRe = regexp.MustCompile(`//[^\n]*`)
var blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)

// KernelNames lists the kernel entry points declared in source, in order.
func KernelNames(source string) []string {
	stripped := blockCommentRe.ReplaceAllString(source, "")
	stripped = lineCommentRe.ReplaceAllString(stripped, "")

	var names []string
	for _, m := range kernelDeclRe.FindAllStringSubmatch(stripped, -1) {
		names = append(names, m[1])
	}
	return names
}
