package reader

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestLocalResource(t *testing.T) {
	_, thisFile, _, _ := runtime.Caller(0)
	res, err := newResource(thisFile, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()
}

func TestHttpResource(t *testing.T) {
	_, thisFile, _, _ := runtime.Caller(0)
	thisDir := filepath.Dir(thisFile)

	server := httptest.NewServer(http.FileServer(http.Dir(thisDir)))
	defer server.Close()

	fetchUrl := server.URL + "/" + filepath.Base(thisFile)
	res, err := newResource(fetchUrl, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()

	fetchUrl = server.URL + "/file-not-found.foo"
	expError := fmt.Sprintf("resource: could not fetch '%s': status %d", fetchUrl, 404)
	_, err = newResource(fetchUrl, nil)
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get: %s; got %v", expError, err)
	}
}

func TestRelativeResources(t *testing.T) {
	serverHits := 0
	serverFn := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverHits++
		if r.URL.Path == "/foo/file1.go" || r.URL.Path == "/foo/file2.go" {
			w.Write([]byte("OK"))
		} else {
			http.NotFound(w, r)
		}
	})
	server := httptest.NewServer(serverFn)
	defer server.Close()

	res1, err := newResource(server.URL+"/foo/file1.go", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res1.Close()
	res2, err := newResource("file2.go", res1)
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Close()

	if serverHits != 2 {
		t.Fatalf("expected server to receive 2 requests; got %d", serverHits)
	}
}

func TestUnsupportedResourceScheme(t *testing.T) {
	expError := "resource: unsupported scheme 'gopher'"
	_, err := newResource("gopher://digging.go", nil)
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get: %s; got %v", expError, err)
	}
}

func TestReadSceneOverHttp(t *testing.T) {
	files := map[string]string{
		"/scenes/tri.obj": "mtllib tri.mtl\no tri\nv 0 0 0\nv 1 0 0\nv 0 1 0\nusemtl lamp\nf 1 2 3\n",
		"/scenes/tri.mtl": "newmtl lamp\nKe 5 5 5\n",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if payload, ok := files[r.URL.Path]; ok {
			io.WriteString(w, payload)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	in, err := ReadScene(server.URL + "/scenes/tri.obj")
	if err != nil {
		t.Fatal(err)
	}
	if len(in.Materials) != 1 || !in.Materials[0].IsEmissive() {
		t.Fatalf("expected a single emissive material; got %v", in.Materials)
	}

	if _, err = ReadScene(server.URL + "/scenes/tri.gltf"); err == nil || !strings.Contains(err.Error(), "unsupported scene format") {
		t.Fatalf("expected unsupported format error; got %v", err)
	}
}

func mockResource(payload string) *resource {
	url, _ := url.Parse("embedded")
	return &resource{
		ReadCloser: io.NopCloser(strings.NewReader(payload)),
		url:        url,
	}
}
