package builtin

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/tools"
)

const maxResponseBody = 100_000

type httpRequestTool struct{ client *http.Client }

func (t *httpRequestTool) ID() tools.ID           { return "web.http_request" }
func (t *httpRequestTool) Capabilities() []string { return []string{"request"} }

func (t *httpRequestTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "request" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "web.http_request.%s", capability)
	}
	target, err := args.String("url")
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(args.StringOr("method", "GET"))
	timeoutMS := args.IntOr("timeout_ms", 30000)

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	var bodyReader io.Reader
	if body := args.StringOr("body", ""); body != "" && (method == "POST" || method == "PUT" || method == "PATCH") {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, target, bodyReader)
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid request: %s", err)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, fabricerr.Newf(fabricerr.CodeTimeout, "request timed out after %dms", timeoutMS)
		}
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "request failed: %s", err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "could not read response: %s", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return tools.Result{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(raw),
		"elapsed_ms":  elapsed.Milliseconds(),
		"url":         resp.Request.URL.String(),
	}, nil
}

type fetchPageTool struct{ client *http.Client }

func (t *fetchPageTool) ID() tools.ID           { return "web.fetch_page" }
func (t *fetchPageTool) Capabilities() []string { return []string{"fetch"} }

func (t *fetchPageTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "fetch" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "web.fetch_page.%s", capability)
	}
	target, err := args.String("url")
	if err != nil {
		return nil, err
	}
	extractText := args.BoolOr("extract_text", true)
	maxLength := args.IntOr("max_length", 50000)

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid url: %s", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "fetch failed: %s", err)
	}
	defer resp.Body.Close()

	doc, err := html.Parse(io.LimitReader(resp.Body, 5*maxResponseBody))
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "could not parse page: %s", err)
	}

	title, links, textParts := extractPage(doc)
	linksOut := dedupe(links)
	if len(linksOut) > 50 {
		linksOut = linksOut[:50]
	}

	result := tools.Result{
		"title": title,
		"url":   resp.Request.URL.String(),
		"links": linksOut,
		"metadata": map[string]any{
			"content_type": resp.Header.Get("Content-Type"),
		},
	}
	if extractText {
		text := strings.Join(strings.Fields(strings.Join(textParts, " ")), " ")
		if len(text) > maxLength {
			text = text[:maxLength]
		}
		result["text"] = text
	}
	return result, nil
}

var skipTextTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Nav: true, atom.Footer: true, atom.Header: true,
}

func extractPage(doc *html.Node) (title string, links []string, textParts []string) {
	var walk func(n *html.Node, skip bool)
	walk = func(n *html.Node, skip bool) {
		switch n.Type {
		case html.ElementNode:
			if n.DataAtom == atom.Title && n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			if n.DataAtom == atom.A {
				for _, attr := range n.Attr {
					if attr.Key == "href" && (strings.HasPrefix(attr.Val, "http://") || strings.HasPrefix(attr.Val, "https://")) {
						links = append(links, attr.Val)
					}
				}
			}
			if skipTextTags[n.DataAtom] {
				skip = true
			}
		case html.TextNode:
			if !skip {
				textParts = append(textParts, n.Data)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, skip)
		}
	}
	walk(doc, false)
	return title, links, textParts
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

type parseURLTool struct{}

func (t *parseURLTool) ID() tools.ID           { return "web.parse_url" }
func (t *parseURLTool) Capabilities() []string { return []string{"parse"} }

func (t *parseURLTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "parse" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "web.parse_url.%s", capability)
	}
	raw, err := args.String("url")
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid url: %s", err)
	}

	query := make(map[string]any, len(parsed.Query()))
	for k, v := range parsed.Query() {
		if len(v) == 1 {
			query[k] = v[0]
		} else {
			query[k] = v
		}
	}

	var port any
	if p := parsed.Port(); p != "" {
		port = p
	}

	return tools.Result{
		"scheme":   parsed.Scheme,
		"netloc":   parsed.Host,
		"path":     parsed.Path,
		"query":    query,
		"fragment": parsed.Fragment,
		"hostname": parsed.Hostname(),
		"port":     port,
	}, nil
}

// SearchProvider is satisfied by any external search backend. The gateway
// ships no concrete implementation; callers wire one in via config, per
// spec's scoping of live external search as an interface, not a feature.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]tools.Result, error)
}

type searchTool struct{ provider SearchProvider }

func (t *searchTool) ID() tools.ID           { return "web.search" }
func (t *searchTool) Capabilities() []string { return []string{"search"} }

func (t *searchTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "search" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "web.search.%s", capability)
	}
	if t.provider == nil {
		return nil, fabricerr.New(fabricerr.CodeConfigError, "no search provider configured")
	}
	query, err := args.String("query")
	if err != nil {
		return nil, err
	}
	maxResults := args.IntOr("max_results", 5)
	results, err := t.provider.Search(ctx, query, maxResults)
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "search failed: %s", err)
	}
	return tools.Result{"query": query, "results": results}, nil
}

func init() {
	client := &http.Client{}
	tools.Register("web.http_request", "perform an HTTP request", func(config map[string]any) tools.Tool {
		return &httpRequestTool{client: client}
	})
	tools.Register("web.fetch_page", "fetch a page and extract its title, links, and text", func(config map[string]any) tools.Tool {
		return &fetchPageTool{client: client}
	})
	tools.Register("web.parse_url", "parse a URL into its components", func(config map[string]any) tools.Tool {
		return &parseURLTool{}
	})
	tools.Register("web.search", "query an externally configured search provider", func(config map[string]any) tools.Tool {
		var provider SearchProvider
		if config != nil {
			if p, ok := config["provider"].(SearchProvider); ok {
				provider = p
			}
		}
		return &searchTool{provider: provider}
	})
}
