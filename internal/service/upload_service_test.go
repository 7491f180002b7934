package service

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/smb-connect/connect-api/internal/models"
)

type storageStub struct {
	uploaded bytes.Buffer
	calls    int
}

func (s *storageStub) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	s.calls++
	s.uploaded.Reset()
	if _, err := s.uploaded.ReadFrom(reader); err != nil {
		return "", err
	}
	return "https://cdn.example.com/" + name, nil
}

type uploadRepoStub struct {
	record models.UploadRecord
}

func (u *uploadRepoStub) Create(ctx context.Context, record *models.UploadRecord) error {
	u.record = *record
	return nil
}

func allClasses() []string {
	return []string{AttachmentClassImage, AttachmentClassVideo, AttachmentClassDocument}
}

func TestUploadServiceRejectsSize(t *testing.T) {
	storage := &storageStub{}
	repo := &uploadRepoStub{}
	svc := NewUploadService(storage, repo, 1, allClasses(), zerolog.Nop())

	file := buildFileHeader(t, "file.pdf", bytes.Repeat([]byte("a"), 2*1024*1024))

	_, _, err := svc.Upload(context.Background(), file, "alice")
	require.ErrorIs(t, err, ErrUploadTooLarge)
	require.Zero(t, storage.calls)
}

func TestUploadServiceRejectsDisallowedClass(t *testing.T) {
	storage := &storageStub{}
	repo := &uploadRepoStub{}
	svc := NewUploadService(storage, repo, 5, []string{AttachmentClassImage}, zerolog.Nop())

	file := buildFileHeader(t, "file.txt", []byte("plain text"))
	_, _, err := svc.Upload(context.Background(), file, "alice")
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)
}

func TestUploadServiceStoresImage(t *testing.T) {
	storage := &storageStub{}
	repo := &uploadRepoStub{}
	svc := NewUploadService(storage, repo, 5, allClasses(), zerolog.Nop())

	pngHeader := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	file := buildFileHeader(t, "Profile Pic.PNG", pngHeader)

	resp, class, err := svc.Upload(context.Background(), file, "alice")
	require.NoError(t, err)
	require.Equal(t, AttachmentClassImage, class)
	require.Contains(t, resp.URL, "profile-pic")
	require.Equal(t, "profile-pic.png", resp.FileName)
	require.NotEmpty(t, resp.Checksum)
	require.Equal(t, int64(len(pngHeader)), resp.SizeBytes)
	require.Equal(t, "alice", *repo.record.MemberID)
}

func TestClassifyMime(t *testing.T) {
	require.Equal(t, AttachmentClassImage, classifyMime("image/png"))
	require.Equal(t, AttachmentClassVideo, classifyMime("video/mp4"))
	require.Equal(t, AttachmentClassDocument, classifyMime("application/pdf"))
	require.Equal(t, AttachmentClassDocument, classifyMime("text/plain; charset=utf-8"))
}

func buildFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {"form-data; name=\"file\"; filename=\"" + filename + "\""},
		"Content-Type":        {"application/octet-stream"},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	writer.Close()

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content) + 1024))
	require.NoError(t, err)
	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}
