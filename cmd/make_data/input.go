package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/yargevad/filepathx"
)

// fetchS3 downloads s3://bucket/key to a local temp file and returns its
// path. The caller removes the file when done.
func fetchS3(uri string) (string, error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid s3 URI: %s", uri)
	}
	sess, err := session.NewSession()
	if err != nil {
		return "", err
	}
	tempFile, err := os.CreateTemp("", "make_data_*.jsonl")
	if err != nil {
		return "", err
	}
	log.Printf("Downloading %s", uri)
	downloader := s3manager.NewDownloader(sess)
	if _, err := downloader.Download(tempFile, &s3.GetObjectInput{
		Bucket: aws.String(parts[0]),
		Key:    aws.String(parts[1]),
	}); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return "", err
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return "", err
	}
	return tempFile.Name(), nil
}

// resolveInputs expands an input spec into concrete local paths, sorted by
// path so the cache identity is stable across runs. Directories are
// scanned recursively for .jsonl files, globs expanded, s3:// URIs
// downloaded first. cleanup removes any temp files and must always be
// called.
func resolveInputs(spec string) (paths []string, cleanup func(), err error) {
	cleanup = func() {}
	if strings.HasPrefix(spec, "s3://") {
		local, fetchErr := fetchS3(spec)
		if fetchErr != nil {
			return nil, cleanup, fetchErr
		}
		return []string{local}, func() { os.Remove(local) }, nil
	}
	if stat, statErr := os.Stat(spec); statErr == nil && !stat.IsDir() {
		return []string{spec}, cleanup, nil
	} else if statErr == nil {
		spec = spec + "/**/*.jsonl"
	}
	matches, err := filepathx.Glob(spec)
	if err != nil {
		return nil, cleanup, err
	}
	if len(matches) == 0 {
		return nil, cleanup, fmt.Errorf(
			"%s does not match any .jsonl files", spec)
	}
	sort.Strings(matches)
	return matches, cleanup, nil
}

// openInputs concatenates the input files into one record stream. A newline
// is inserted between files so a missing final newline never splices two
// records together.
func openInputs(paths []string) (io.Reader, func(), error) {
	readers := make([]io.Reader, 0, len(paths)*2)
	files := make([]*os.File, 0, len(paths))
	closeAll := func() {
		for _, file := range files {
			file.Close()
		}
	}
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		log.Print("Reading ", path)
		files = append(files, file)
		readers = append(readers,
			bufio.NewReaderSize(file, 8*1024*1024),
			strings.NewReader("\n"))
	}
	return io.MultiReader(readers...), closeAll, nil
}
