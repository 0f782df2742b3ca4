package backup

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseS3BucketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wantBkt   string
		wantPre   string
		errSubstr string
	}{
		{name: "bucket only", raw: "s3://my-bucket", wantBkt: "my-bucket"},
		{name: "bucket with prefix", raw: "s3://my-bucket/tunnelscope/backups/", wantBkt: "my-bucket", wantPre: "tunnelscope/backups"},
		{name: "invalid scheme", raw: "https://my-bucket/x", wantErr: true, errSubstr: "s3:// scheme"},
		{name: "missing bucket", raw: "s3:///x", wantErr: true, errSubstr: "missing bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotBkt, gotPre, err := parseS3BucketURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errSubstr) {
					t.Fatalf("err = %q, want substring %q", err.Error(), tt.errSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseS3BucketURL error: %v", err)
			}
			if gotBkt != tt.wantBkt || gotPre != tt.wantPre {
				t.Fatalf("got %q/%q, want %q/%q", gotBkt, gotPre, tt.wantBkt, tt.wantPre)
			}
		})
	}
}

func TestNewS3Uploader_MissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewS3Uploader(S3Config{BucketURL: "s3://my-bucket/tunnelscope"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"", true, ""},
		{"minio:9000", false, "http://minio:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"http://already", true, "http://already"},
	}
	for _, tt := range tests {
		if got := normalizeEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normalizeEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}

func TestUploadFileBuildsCommand(t *testing.T) {
	t.Parallel()

	var gotName string
	var gotArgs, gotEnv []string
	run := func(_ context.Context, env []string, name string, args ...string) ([]byte, error) {
		gotName, gotArgs, gotEnv = name, args, env
		return nil, nil
	}
	u, err := newS3Uploader(S3Config{
		BucketURL:    "s3://bkt/snaps",
		Endpoint:     "minio:9000",
		AccessKey:    "AK",
		SecretKey:    "SK",
		SessionToken: "TOK",
	}, run)
	if err != nil {
		t.Fatalf("newS3Uploader: %v", err)
	}

	if err := u.UploadFile(context.Background(), "/var/backups/tunnelscope-1.duckdb"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if gotName != "aws" {
		t.Fatalf("name = %q", gotName)
	}
	args := strings.Join(gotArgs, " ")
	want := "s3 cp /var/backups/tunnelscope-1.duckdb s3://bkt/snaps/tunnelscope-1.duckdb --region us-east-1 --only-show-errors --endpoint-url http://minio:9000"
	if args != want {
		t.Fatalf("args = %q\nwant %q", args, want)
	}
	env := strings.Join(gotEnv, " ")
	if !strings.Contains(env, "AWS_ACCESS_KEY_ID=AK") || !strings.Contains(env, "AWS_SESSION_TOKEN=TOK") {
		t.Fatalf("env = %q", env)
	}
}

func TestUploadFileReportsOutput(t *testing.T) {
	t.Parallel()

	run := func(context.Context, []string, string, ...string) ([]byte, error) {
		return []byte("AccessDenied\n"), errors.New("exit status 1")
	}
	u, err := newS3Uploader(S3Config{BucketURL: "s3://bkt", AccessKey: "a", SecretKey: "b"}, run)
	if err != nil {
		t.Fatalf("newS3Uploader: %v", err)
	}
	err = u.UploadFile(context.Background(), "/tmp/x.duckdb")
	if err == nil || !strings.Contains(err.Error(), "AccessDenied") {
		t.Fatalf("err = %v", err)
	}
}
