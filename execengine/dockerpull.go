package execengine

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cealn-go/cealn/action"
	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/common"
	"github.com/cealn-go/cealn/depmap"
	"github.com/cealn-go/cealn/filehash"
)

// dockerAuth is the minimal result of a registry's WWW-Authenticate
// challenge (realm/service/scope Bearer token flow), resolved by
// RunDockerDownload before fetching the manifest/layers. Narrowed from the
// deleted common/docker.go, which drove the full Docker Engine API rather
// than the registry HTTP API directly: a hermetic build needs only blobs
// by digest, not a running daemon.
type dockerAuth struct {
	realm   string
	service string
}

// parseWWWAuthenticate tolerantly extracts realm/service from a
// WWW-Authenticate header. Real-world registries are inconsistent about
// quoting, parameter order, and whether "Bearer" is capitalized, so this
// parser treats the header as a loose comma-separated key=value list
// rather than requiring RFC 7235 strictness (SPEC_FULL.md Open Question
// (b)).
func parseWWWAuthenticate(header string) dockerAuth {
	var auth dockerAuth
	header = strings.TrimSpace(header)
	if idx := strings.IndexByte(header, ' '); idx >= 0 {
		header = header[idx+1:]
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		switch key {
		case "realm":
			auth.realm = val
		case "service":
			auth.service = val
		}
	}
	return auth
}

func fetchBearerToken(ctx context.Context, auth dockerAuth, scope string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, auth.realm, nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	if auth.service != "" {
		q.Set("service", auth.service)
	}
	if scope != "" {
		q.Set("scope", scope)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("execengine: token endpoint %s returned %d", auth.realm, resp.StatusCode)
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Token != "" {
		return body.Token, nil
	}
	return body.AccessToken, nil
}

// registryDo issues req against host, retrying once with a bearer token if
// the registry challenges with 401 WWW-Authenticate.
func registryDo(ctx context.Context, req *http.Request, scope string) (*http.Response, error) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	challenge := resp.Header.Get("WWW-Authenticate")
	resp.Body.Close()
	if challenge == "" {
		return nil, fmt.Errorf("execengine: registry returned 401 with no WWW-Authenticate challenge")
	}

	token, err := fetchBearerToken(ctx, parseWWWAuthenticate(challenge), scope)
	if err != nil {
		return nil, fmt.Errorf("execengine: fetching bearer token: %w", err)
	}
	req2 := req.Clone(ctx)
	req2.Header.Set("Authorization", "Bearer "+token)
	return http.DefaultClient.Do(req2)
}

// RunDockerDownload pulls an image manifest and its layer blobs from
// payload's registry, verifies every blob's digest against the manifest
// before trusting it (spec.md §4.3 supplement), extracts each layer
// tarball, and folds the result into a single depmap.
func RunDockerDownload(ctx context.Context, c *cache.Cache, payload *action.DockerDownloadPayload) (*depmap.Depmap, error) {
	log := common.NewContextLogger(common.Logger, map[string]interface{}{
		"component":  "execengine.dockerpull",
		"repository": payload.Repository,
	})

	registryHost := payload.Registry
	if registryHost == "" {
		registryHost = "registry-1.docker.io"
	}
	repo := payload.Repository
	scope := fmt.Sprintf("repository:%s:pull", repo)

	manifestURL := fmt.Sprintf("https://%s/v2/%s/manifests/%s", registryHost, repo, payload.Reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", strings.Join([]string{
		ocispec.MediaTypeImageManifest,
		"application/vnd.docker.distribution.manifest.v2+json",
	}, ", "))

	resp, err := registryDo(ctx, req, scope)
	if err != nil {
		return nil, fmt.Errorf("execengine: fetching manifest %s: %w", manifestURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execengine: manifest %s returned %d", manifestURL, resp.StatusCode)
	}

	var manifest ocispec.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("execengine: decoding manifest: %w", err)
	}

	builder := depmap.NewBuilder()
	for i, layer := range manifest.Layers {
		layerDm, err := fetchAndExtractLayer(ctx, c, registryHost, repo, layer, scope, log)
		if err != nil {
			return nil, fmt.Errorf("execengine: layer %d (%s): %w", i, layer.Digest, err)
		}
		builder.Merge("", layerDm)
	}
	return builder.Build(), nil
}

func fetchAndExtractLayer(ctx context.Context, c *cache.Cache, registryHost, repo string, layer ocispec.Descriptor, scope string, log *common.ContextLogger) (*depmap.Depmap, error) {
	blobURL := fmt.Sprintf("https://%s/v2/%s/blobs/%s", registryHost, repo, layer.Digest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := registryDo(ctx, req, scope)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob %s returned %d", blobURL, resp.StatusCode)
	}

	verifier := layer.Digest.Verifier()
	tee := io.TeeReader(resp.Body, verifier)

	tmp, err := os.CreateTemp(c.Dir, "layer-*")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, tee); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if !verifier.Verified() {
		return nil, fmt.Errorf("layer %s failed digest verification", layer.Digest)
	}

	log.WithField("digest", layer.Digest.String()).Debug("verified layer blob")

	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if layer.MediaType == ocispec.MediaTypeImageLayerGzip || strings.HasSuffix(string(layer.MediaType), "+gzip") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	return extractTarToDepmap(c, r, 0)
}

// extractTarToDepmap streams a tar archive directly into the cache and a
// depmap, without ever materializing the archive's directory tree on
// disk — each regular file is hashed and published as it is read, and
// hard links resolve against entries already inserted earlier in the same
// stream (spec.md §4.3 scenario 9). stripComponents removes that many
// leading path segments from every entry (RunExtract passes
// ExtractPayload.StripComponents; layer extraction passes 0). An entry or
// hard-link target with a ".." segment fails the whole extraction.
func extractTarToDepmap(c *cache.Cache, r io.Reader, stripComponents int) (*depmap.Depmap, error) {
	tr := tar.NewReader(r)
	builder := depmap.NewBuilder()
	byName := map[string]depmap.Entry{}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}

		if strings.Contains("/"+filepath.ToSlash(hdr.Name)+"/", "/../") {
			return nil, fmt.Errorf("tar entry %s escapes the extraction root", hdr.Name)
		}
		name, ok := stripAndCleanTarPath(hdr.Name, stripComponents)
		if !ok {
			continue
		}
		if name == "" || strings.HasPrefix(name, ".git/") {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			builder.Insert(name, depmap.Directory())
			byName[name] = depmap.Directory()

		case tar.TypeReg, tar.TypeRegA:
			h, err := publishTarEntry(c, tr, hdr.Size)
			if err != nil {
				return nil, fmt.Errorf("publishing %s: %w", name, err)
			}
			exec := hdr.Mode&0o111 != 0
			e := depmap.Regular(h, exec)
			builder.Insert(name, e)
			byName[name] = e

		case tar.TypeSymlink:
			e := depmap.Symlink(hdr.Linkname)
			builder.Insert(name, e)
			byName[name] = e

		case tar.TypeLink:
			if strings.Contains("/"+filepath.ToSlash(hdr.Linkname)+"/", "/../") {
				return nil, fmt.Errorf("hard link %s target %s escapes the extraction root", name, hdr.Linkname)
			}
			linkName, ok := stripAndCleanTarPath(hdr.Linkname, stripComponents)
			if !ok {
				continue
			}
			target, found := byName[linkName]
			if !found {
				return nil, fmt.Errorf("hard link %s refers to unseen entry %s", name, linkName)
			}
			builder.Insert(name, target)
			byName[name] = target

		default:
			// Device files, FIFOs, etc. have no place in a hermetic
			// build's inputs; skip them rather than fail the whole pull.
		}
	}

	return builder.Build(), nil
}

func publishTarEntry(c *cache.Cache, r io.Reader, size int64) (filehash.Hash, error) {
	tmp, err := os.CreateTemp(c.Dir, "tar-entry-*")
	if err != nil {
		return filehash.Hash{}, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var copyErr error
	if size < 0 {
		_, copyErr = io.Copy(tmp, r)
	} else {
		_, copyErr = io.CopyN(tmp, r, size)
		if copyErr == io.EOF {
			copyErr = nil
		}
	}
	if copyErr != nil {
		tmp.Close()
		return filehash.Hash{}, copyErr
	}
	if err := tmp.Close(); err != nil {
		return filehash.Hash{}, err
	}

	h, err := cache.HashFile(tmpPath)
	if err != nil {
		return filehash.Hash{}, err
	}
	if _, err := c.MoveInto(tmpPath, h, false); err != nil {
		return filehash.Hash{}, err
	}
	return h, nil
}

// stripAndCleanTarPath normalizes a tar entry name, strips n leading path
// components, and rejects any ".." segment that would escape the
// extraction root (zip-slip prevention, generalized from the teacher's
// archive/unzip.go idiom to tar streams).
func stripAndCleanTarPath(name string, n int) (string, bool) {
	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	parts := strings.Split(name, "/")
	for _, p := range parts {
		if p == ".." {
			return "", false
		}
	}
	if n > 0 {
		if len(parts) <= n {
			return "", false
		}
		parts = parts[n:]
	}
	cleaned := strings.Join(parts, "/")
	cleaned = strings.TrimSuffix(cleaned, "/")
	return cleaned, true
}
