// Package concepts resolves vocabulary terms against a SPARQL endpoint:
// term to concept URI, and concept property values by predicate. Results
// are cached per resolver, and concurrent lookups for the same key are
// collapsed into a single query.
package concepts

import (
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/golang/groupcache/singleflight"
	"github.com/pkg/errors"

	"github.com/edepot/sipkit/config"
)

// Predicates commonly asked of concepts.
const (
	SKOSPrefLabel = "http://www.w3.org/2004/02/skos/core#prefLabel"
	SKOSAltLabel  = "http://www.w3.org/2004/02/skos/core#altLabel"
	SKOSNotation  = "http://www.w3.org/2004/02/skos/core#notation"
)

// ErrConceptNotFound indicates the vocabulary has no concept for the term,
// or no value for the requested predicate.
var ErrConceptNotFound = errors.New("concept not found")

// A Resolver answers lookups against one vocabulary. It is safe for
// concurrent use.
type Resolver struct {
	vocabulary string
	endpoint   string
	client     *http.Client

	flight singleflight.Group
	mu     sync.Mutex
	cache  map[string]string
}

// NewResolver returns a resolver for the given vocabulary, e.g. "actor" or
// "fileformat". The endpoint is derived from the configured prefix and
// suffix.
func NewResolver(cfg config.Config, vocabulary string) *Resolver {
	return &Resolver{
		vocabulary: vocabulary,
		endpoint:   cfg.SparqlEndpointPrefix + vocabulary + cfg.SparqlEndpointSuffix,
		// the timeout is arbitrary, and is just there so we don't hang
		// indefinitely should the server never close the connection
		client: &http.Client{Timeout: 60 * time.Second},
		cache:  make(map[string]string),
	}
}

// Endpoint returns the SPARQL endpoint this resolver queries.
func (r *Resolver) Endpoint() string { return r.endpoint }

// ResolveURI returns the URI of the concept labeled by term. The term is
// matched against skos:prefLabel, skos:altLabel, and skos:notation.
func (r *Resolver) ResolveURI(term string) (string, error) {
	query := `
		PREFIX skos: <http://www.w3.org/2004/02/skos/core#>
		SELECT ?uri WHERE {
			?uri skos:prefLabel|skos:altLabel|skos:notation ` + literal(term) + ` .
		} LIMIT 1`
	return r.lookup("uri\x00"+term, query, "uri")
}

// ResolveValue returns the value of the given predicate for the concept
// labeled by term.
func (r *Resolver) ResolveValue(term, predicate string) (string, error) {
	query := `
		PREFIX skos: <http://www.w3.org/2004/02/skos/core#>
		SELECT ?value WHERE {
			?uri skos:prefLabel|skos:altLabel|skos:notation ` + literal(term) + ` .
			?uri <` + predicate + `> ?value .
		} LIMIT 1`
	return r.lookup("value\x00"+term+"\x00"+predicate, query, "value")
}

// ValueForURI returns the value of the given predicate for a concept
// already identified by URI.
func (r *Resolver) ValueForURI(uri, predicate string) (string, error) {
	query := `
		SELECT ?value WHERE {
			<` + uri + `> <` + predicate + `> ?value .
		} LIMIT 1`
	return r.lookup("byuri\x00"+uri+"\x00"+predicate, query, "value")
}

// lookup runs the query unless the key is cached, deduplicating concurrent
// calls for the same key.
func (r *Resolver) lookup(key, query, binding string) (string, error) {
	r.mu.Lock()
	v, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return v, nil
	}
	result, err := r.flight.Do(key, func() (interface{}, error) {
		v, err := r.query(query, binding)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[key] = v
		r.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// query posts the SPARQL query and extracts the first binding of the given
// variable from the JSON results.
func (r *Resolver) query(query, binding string) (string, error) {
	form := url.Values{"query": {query}}
	req, err := http.NewRequest("POST", r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "sparql %s", r.endpoint)
	}
	defer func() {
		io.Copy(ioutil.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != 200 {
		return "", errors.Errorf("sparql %s: status %d", r.endpoint, resp.StatusCode)
	}

	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return "", errors.Wrapf(err, "sparql %s", r.endpoint)
	}
	bindings, err := v.GetObjectArray("results", "bindings")
	if err != nil || len(bindings) == 0 {
		return "", ErrConceptNotFound
	}
	value, err := bindings[0].GetString(binding, "value")
	if err != nil {
		return "", ErrConceptNotFound
	}
	return value, nil
}

// literal quotes a term as a SPARQL string literal.
func literal(term string) string {
	q := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(term)
	return `"` + q + `"`
}
