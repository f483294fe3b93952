package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "avatars-bucket"

// fakeS3 serves the path-style PutObject, ListObjectsV2 and DeleteObjects calls.
type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	deleted      []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucketPath := "/" + testBucket
	if r.URL.Path != bucketPath && !strings.HasPrefix(r.URL.Path, bucketPath+"/") {
		http.Error(w, "no such bucket", http.StatusNotFound)
		return
	}
	key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, bucketPath), "/")

	body, err := readS3Body(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPut && key != "":
		f.objects[key] = body
		f.contentTypes[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		f.list(w, r.URL.Query().Get("prefix"))
	case r.Method == http.MethodPost && key == "" && r.URL.Query().Has("delete"):
		var req struct {
			Objects []struct {
				Key string `xml:"Key"`
			} `xml:"Object"`
		}
		if err := xml.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, obj := range req.Objects {
			delete(f.objects, obj.Key)
			f.deleted = append(f.deleted, obj.Key)
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></DeleteResult>`)
	default:
		http.Error(w, "unsupported "+r.Method+" "+r.URL.String(), http.StatusNotImplemented)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>", testBucket, prefix, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00.000Z</LastModified></Contents>", k, len(f.objects[k]))
	}
	b.WriteString("</ListBucketResult>")

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, b.String())
}

// readS3Body returns the payload, undoing aws-chunked framing when the SDK used it.
func readS3Body(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		return raw, nil
	}

	var out bytes.Buffer
	br := bufio.NewReader(bytes.NewReader(raw))
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		sizeHex := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse chunk size %q: %w", sizeHex, err)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, fmt.Errorf("read chunk: %w", err)
		}
		if _, err := br.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("read chunk terminator: %w", err)
		}
	}
}

func newTestS3Service(t *testing.T, keyPrefix string) (*S3Service, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		Credentials:                aws.AnonymousCredentials{},
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})

	svc, err := NewS3Service(client, S3Options{
		Bucket:        testBucket,
		KeyPrefix:     keyPrefix,
		PublicBaseURL: "https://cdn.example.com/",
	})
	require.NoError(t, err)
	return svc, fake
}

func TestS3Service_PutListDeleteWithPrefix(t *testing.T) {
	ctx := context.Background()
	svc, fake := newTestS3Service(t, "/avatars/")

	ref, err := svc.Put(ctx, "user-3.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatars/user-3.png", ref)

	_, err = svc.Put(ctx, "user-3.webp", []byte("webp-bytes"), "image/webp")
	require.NoError(t, err)
	_, err = svc.Put(ctx, "user-30.png", []byte("other user"), "image/png")
	require.NoError(t, err)

	fake.mu.Lock()
	assert.Equal(t, []byte("png-bytes"), fake.objects["avatars/user-3.png"])
	assert.Equal(t, "image/png", fake.contentTypes["avatars/user-3.png"])
	fake.mu.Unlock()

	objects, err := svc.List(ctx, "user-3.")
	require.NoError(t, err)
	var keys []string
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	assert.ElementsMatch(t, []string{"user-3.png", "user-3.webp"}, keys)

	require.NoError(t, svc.Delete(ctx, "user-3.webp"))

	fake.mu.Lock()
	assert.Equal(t, []string{"avatars/user-3.webp"}, fake.deleted)
	_, stillThere := fake.objects["avatars/user-3.png"]
	fake.mu.Unlock()
	assert.True(t, stillThere)

	objects, err = svc.List(ctx, "user-3.")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "user-3.png", objects[0].Key)
	assert.Equal(t, int64(len("png-bytes")), objects[0].Size)
}

func TestS3Service_WithoutPrefixAndBadKeys(t *testing.T) {
	ctx := context.Background()
	svc, fake := newTestS3Service(t, "")

	ref, err := svc.Put(ctx, "user-1.jpg", []byte("jpg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/user-1.jpg", ref)

	_, err = svc.Put(ctx, "../escape.png", []byte("x"), "image/png")
	assert.Error(t, err)
	assert.Error(t, svc.Delete(ctx, "a/b.png"))
	assert.NoError(t, svc.Delete(ctx))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.objects, 1)
	assert.Empty(t, fake.deleted)
}

func TestNewS3Service_RequiresBucketAndURL(t *testing.T) {
	client := s3.New(s3.Options{Region: "us-east-1"})

	_, err := NewS3Service(client, S3Options{PublicBaseURL: "https://cdn.example.com"})
	assert.Error(t, err)
	_, err = NewS3Service(client, S3Options{Bucket: testBucket})
	assert.Error(t, err)
}
