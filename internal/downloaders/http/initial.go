package mydmhttp

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

var looseFilenameRegex = regexp.MustCompile(`(?i)filename\s*=\s*"?([^";]+)"?`)

// FileInfo is what a probe learns about a resource before any body transfer.
type FileInfo struct {
	Size           int64
	RangeSupported bool
	Filename       string
	FinalURL       string
}

type Prober struct {
	client utils.HTTPDoer
	log    zerolog.Logger
}

func NewProber(client utils.HTTPDoer) *Prober {
	return &Prober{client: client, log: utils.GetLogger("http/prober")}
}

// Probe issues a HEAD request and, unless that already settles range support
// and size, a one-byte range GET. A reachable resource with no usable size
// yields a usable FileInfo together with a ProbeError wrapping
// types.ErrSizeUnknown so the caller can fall back to an unsized stream.
func (p *Prober) Probe(ctx context.Context, link, referer, id string) (*FileInfo, error) {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return nil, &types.ProbeError{URL: link, Err: fmt.Errorf("invalid URL: %w", err)}
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, &types.ProbeError{URL: link, Err: fmt.Errorf("unsupported scheme: %q", parsedURL.Scheme)}
	}

	info := &FileInfo{Size: types.UnknownSize, FinalURL: link}
	headResp, headErr := p.do(ctx, http.MethodHead, link, referer, false)
	if headErr == nil {
		headResp.Body.Close()
		if headResp.StatusCode < 400 {
			info.FinalURL = headResp.Request.URL.String()
			info.Filename = filenameFromDisposition(headResp.Header.Get("Content-Disposition"))
			info.Size = headResp.ContentLength
			if headResp.Header.Get("Accept-Ranges") == "bytes" && info.Size > 0 {
				info.RangeSupported = true
				p.finishName(info, link, id)
				p.log.Debug().Str("url", link).Int64("size", info.Size).Msg("Range support advertised by HEAD")
				return info, nil
			}
		} else {
			p.log.Debug().Str("url", link).Int("statusCode", headResp.StatusCode).Msg("HEAD rejected, falling back to range probe")
		}
	} else {
		p.log.Debug().Err(headErr).Str("url", link).Msg("HEAD failed, falling back to range probe")
	}

	probeURL := info.FinalURL
	resp, err := p.do(ctx, http.MethodGet, probeURL, referer, true)
	if err != nil {
		return nil, &types.ProbeError{URL: link, Err: fmt.Errorf("server unreachable: %w", err)}
	}
	resp.Body.Close()
	info.FinalURL = resp.Request.URL.String()
	if info.Filename == "" {
		info.Filename = filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		_, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err == nil && total >= 0 {
			info.Size = total
			info.RangeSupported = true
		} else {
			// ranged but the total is not disclosed
			info.RangeSupported = false
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// an empty resource cannot satisfy bytes=0-0
		_, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || total != 0 {
			return nil, &types.ProbeError{URL: link, Err: fmt.Errorf("server returned error: %d", resp.StatusCode)}
		}
		info.Size = 0
		info.RangeSupported = false
	case resp.StatusCode >= 400:
		return nil, &types.ProbeError{URL: link, Err: fmt.Errorf("server returned error: %d", resp.StatusCode)}
	default:
		info.RangeSupported = false
		info.Size = resp.ContentLength
	}

	p.finishName(info, link, id)
	p.log.Debug().Str("url", link).Int64("size", info.Size).Bool("rangeSupported", info.RangeSupported).Str("filename", info.Filename).Msg("Probe finished")
	if info.Size < 0 {
		info.Size = types.UnknownSize
		return info, &types.ProbeError{URL: link, Err: types.ErrSizeUnknown}
	}
	return info, nil
}

func (p *Prober) do(ctx context.Context, method, link, referer string, rangeProbe bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, link, nil)
	if err != nil {
		return nil, err
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if rangeProbe {
		req.Header.Set("Range", "bytes=0-0")
	}
	return p.client.Do(req)
}

func (p *Prober) finishName(info *FileInfo, link, id string) {
	name := utils.SanitizeFilename(info.Filename)
	if name == "" {
		name = utils.SanitizeFilename(utils.FilenameFromURL(info.FinalURL))
	}
	if name == "" {
		name = utils.SanitizeFilename(utils.FilenameFromURL(link))
	}
	if name == "" {
		name = utils.DefaultFilename(id)
	}
	info.Filename = name
}

func filenameFromDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
		// ParseMediaType already decodes RFC 2231 "filename*" into "filename"
		if fn, ok := params["filename"]; ok && fn != "" {
			return fn
		}
		if fn, ok := params["filename*"]; ok && strings.HasPrefix(strings.ToUpper(fn), "UTF-8''") {
			if unescaped, err := url.PathUnescape(fn[len("UTF-8''"):]); err == nil {
				return unescaped
			}
		}
		return ""
	}
	if m := looseFilenameRegex.FindStringSubmatch(contentDisposition); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total is -1 when the server sends "*".
// For an unsatisfied range ("bytes */total") start and end are -1.
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	header = strings.TrimPrefix(header, "bytes ")
	rangePart, totalPart, ok := strings.Cut(header, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if totalPart == "*" {
		total = types.UnknownSize
	} else if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil || total < 0 {
		return 0, 0, 0, errors.New("invalid total bytes in Content-Range")
	}
	if rangePart == "*" {
		return -1, -1, total, nil
	}
	startPart, endPart, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if start, err = strconv.ParseInt(startPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(endPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if end < start {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: end %d before start %d", end, start)
	}
	return start, end, total, nil
}
