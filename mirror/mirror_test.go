package mirror

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter/database"
)

type fakeAPI struct {
	objects map[string][]byte
	gets    int
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for k, v := range f.objects {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(v)))})
	}
	return out, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NotFound")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b)), ContentLength: aws.Int64(int64(len(b)))}, nil
}

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestListISOsFiltersExtension(t *testing.T) {
	api := &fakeAPI{objects: map[string][]byte{
		"isos/debian.iso":   []byte("x"),
		"isos/README.md":    []byte("y"),
		"isos/FEDORA.ISO":   []byte("zz"),
		"isos/debian.iso.1": []byte("w"),
	}}
	m := NewWithAPI(api, Config{Bucket: "b", Prefix: "isos/"}, quiet())

	objs, err := m.ListISOs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 2 {
		t.Fatalf("objects = %+v", objs)
	}
	for _, o := range objs {
		if o.Name() != "debian.iso" && o.Name() != "FEDORA.ISO" {
			t.Fatalf("unexpected object %q", o.Key)
		}
	}
}

func TestFetchWritesAtomicallyWithChecksum(t *testing.T) {
	payload := bytes.Repeat([]byte("iso"), 4096)
	api := &fakeAPI{objects: map[string][]byte{"isos/arch.iso": payload}}
	dest := t.TempDir()
	m := NewWithAPI(api, Config{Bucket: "b", Dest: dest}, quiet())

	var lastDone int64
	m.SetProgressFunc(func(done, total int64, rate float64) { lastDone = done })

	res, err := m.Fetch(context.Background(), "isos/arch.iso")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	sum := sha256.Sum256(payload)
	if res.Checksum != hex.EncodeToString(sum[:]) || res.SizeBytes != int64(len(payload)) {
		t.Fatalf("result = %+v", res)
	}
	if res.LocalPath != filepath.Join(dest, "arch.iso") {
		t.Fatalf("local path = %s", res.LocalPath)
	}
	got, err := os.ReadFile(res.LocalPath)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("file content mismatch: %v", err)
	}
	if _, err := os.Stat(res.LocalPath + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
	if lastDone != int64(len(payload)) {
		t.Fatalf("final progress = %d", lastDone)
	}
}

func TestFetchReusesRecordedDownload(t *testing.T) {
	api := &fakeAPI{objects: map[string][]byte{"ubuntu.iso": []byte("ubuntu")}}
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "h.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	m := NewWithAPI(api, Config{Bucket: "b", Dest: t.TempDir()}, quiet())
	m.SetLedger(db)

	first, err := m.Fetch(context.Background(), "ubuntu.iso")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Fetch(context.Background(), "ubuntu.iso")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Skipped || second.Checksum != first.Checksum || api.gets != 1 {
		t.Fatalf("second fetch = %+v, gets = %d", second, api.gets)
	}

	os.Remove(first.LocalPath)
	third, err := m.Fetch(context.Background(), "ubuntu.iso")
	if err != nil || third.Skipped {
		t.Fatalf("fetch after delete = %+v, %v", third, err)
	}
}

func TestFetchRejectsBadKeys(t *testing.T) {
	m := NewWithAPI(&fakeAPI{}, Config{Bucket: "b", Dest: t.TempDir()}, quiet())
	for _, key := range []string{"", "../etc/passwd.iso", "/abs.iso", "notes.txt", "a\x00.iso"} {
		if _, err := m.Fetch(context.Background(), key); err == nil {
			t.Errorf("Fetch(%q) succeeded", key)
		}
	}
}
