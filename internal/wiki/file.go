package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
)

// File is a page in the file namespace plus the metadata of its most
// recent uploaded version. Page accessors keep working through the
// embedded handle; a single load fetches both bundles.
type File struct {
	Page

	repository string
	url        lazy[string]
	mime       lazy[string]
	sha1       lazy[string]
	size       lazy[int64]
	dimensions lazy[[2]int]
	uploader   lazy[*User]
}

// NewFile returns an unloaded File handle for a file page title.
func NewFile(api API, title string) *File {
	f := &File{Page: Page{api: api, title: title}}
	f.loadWith = f.load
	return f
}

func (f *File) load(ctx context.Context) error { return f.Load(ctx, nil) }

// Load fetches page attributes and image info as one bundle. A file
// page that exists but has no uploaded versions keeps the image
// attributes absent.
func (f *File) Load(ctx context.Context, res *PageResult) error {
	if res == nil {
		params := url.Values{
			"titles":  {f.title},
			"prop":    {"info|revisions|categories|imageinfo"},
			"rvprop":  {"ids|flags|timestamp|user|comment|content"},
			"inprop":  {"protection"},
			"iiprop":  {"size|mime|sha1|url|user"},
			"rvlimit": {"1"},
			"rvdir":   {"older"},
		}
		var rec PageResult
		found, err := firstRecord(ctx, f.api, params, &rec)
		if err != nil || !found {
			return err
		}
		res = &rec
	}
	if err := f.Page.Load(ctx, res); err != nil {
		return err
	}
	f.repository = res.ImageRepository
	if len(res.ImageInfo) == 0 {
		return nil
	}
	info := res.ImageInfo[0]
	f.url.set(info.URL)
	f.mime.set(info.Mime)
	f.sha1.set(info.SHA1)
	f.size.set(info.Size)
	f.dimensions.set([2]int{info.Width, info.Height})
	f.uploader.set(NewUser(f.api, info.User))
	return nil
}

// Repository returns which image repository hosts the file ("local",
// "shared", or empty before any load).
func (f *File) Repository() string { return f.repository }

// URL returns the direct media URL of the file's current version.
func (f *File) URL(ctx context.Context) (string, error) {
	return demand(ctx, f.load, &f.url, "File", f.title)
}

// Mime returns the file's MIME type.
func (f *File) Mime(ctx context.Context) (string, error) {
	return demand(ctx, f.load, &f.mime, "File", f.title)
}

// SHA1 returns the hex digest of the file's current version.
func (f *File) SHA1(ctx context.Context) (string, error) {
	return demand(ctx, f.load, &f.sha1, "File", f.title)
}

// Size returns the file size in bytes.
func (f *File) Size(ctx context.Context) (int64, error) {
	return demand(ctx, f.load, &f.size, "File", f.title)
}

// Dimensions returns the file's width and height in pixels.
func (f *File) Dimensions(ctx context.Context) (width, height int, err error) {
	dims, err := demand(ctx, f.load, &f.dimensions, "File", f.title)
	if err != nil {
		return 0, 0, err
	}
	return dims[0], dims[1], nil
}

// Uploader returns the account that uploaded the file's current
// version.
func (f *File) Uploader(ctx context.Context) (*User, error) {
	return demand(ctx, f.load, &f.uploader, "File", f.title)
}

// Upload pushes a new version of the file. text becomes the file
// page's content for a first upload; summary is the upload comment.
func (f *File) Upload(ctx context.Context, file io.Reader, text, summary string, watch bool) (json.RawMessage, error) {
	up, ok := f.api.(uploadAPI)
	if !ok {
		return nil, fmt.Errorf("transport does not support uploads")
	}
	token, err := f.api.CSRFToken(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"action":         {"upload"},
		"filename":       {f.title},
		"text":           {text},
		"comment":        {summary},
		"ignorewarnings": {"1"},
		"token":          {token},
	}
	if watch {
		params.Set("watch", "1")
	}
	raw, err := up.Upload(ctx, params, f.title, file)
	if err != nil {
		return nil, err
	}
	// The upload outdates the cached image attributes.
	f.url.clear()
	f.mime.clear()
	f.sha1.clear()
	f.size.clear()
	f.dimensions.clear()
	f.uploader.clear()
	f.exists.set(true)
	return raw, nil
}

// Download copies the file's current version into w.
func (f *File) Download(ctx context.Context, w io.Writer) (int64, error) {
	mediaURL, err := f.URL(ctx)
	if err != nil {
		return 0, err
	}
	fetcher, ok := f.api.(fetchAPI)
	if !ok {
		return 0, fmt.Errorf("transport does not support raw fetches")
	}
	body, err := fetcher.Fetch(ctx, mediaURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	return io.Copy(w, body)
}
