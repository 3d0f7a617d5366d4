package provider

import (
	"fmt"
	"strings"

	"animestream/catalogservice/internal/domain"
)

type Entry struct {
	Name       string
	Capability domain.MediaType
	Config     Config
	Adapter    Provider
}

// Info is the public view of a registered provider.
type Info struct {
	Name          string           `json:"name"`
	Capability    domain.MediaType `json:"capability"`
	Enabled       bool             `json:"enabled"`
	Authoritative bool             `json:"authoritative,omitempty"`
	Config        Config           `json:"config"`
}

// Registry holds providers in registration order. It is built once at
// startup and read-only afterwards.
type Registry struct {
	entries       []Entry
	byName        map[string]int
	authoritative map[domain.MediaType]string
}

func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{
		entries:       make([]Entry, 0, len(entries)),
		byName:        make(map[string]int, len(entries)),
		authoritative: make(map[domain.MediaType]string, 2),
	}
	for _, entry := range entries {
		if entry.Adapter == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(entry.Name))
		if name == "" {
			name = strings.ToLower(strings.TrimSpace(entry.Adapter.Name()))
		}
		if name == "" {
			return nil, fmt.Errorf("provider registry: empty provider name")
		}
		if _, exists := r.byName[name]; exists {
			return nil, fmt.Errorf("provider registry: duplicate provider %q", name)
		}
		entry.Name = name
		r.byName[name] = len(r.entries)
		r.entries = append(r.entries, entry)
	}
	return r, nil
}

// SetAuthoritative marks the provider whose source links never expire for
// the media type. Unknown names are rejected.
func (r *Registry) SetAuthoritative(mediaType domain.MediaType, name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		delete(r.authoritative, mediaType)
		return nil
	}
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownProvider, name)
	}
	r.authoritative[mediaType] = name
	return nil
}

func (r *Registry) Authoritative(mediaType domain.MediaType) string {
	if r == nil {
		return ""
	}
	return r.authoritative[mediaType]
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	index, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Entry{}, false
	}
	return r.entries[index], true
}

func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// For returns the enabled providers that answer for mediaType, in
// registration order. META providers answer for every type.
func (r *Registry) For(mediaType domain.MediaType) []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		if !entry.Config.Enabled {
			continue
		}
		if entry.Capability == mediaType || entry.Capability == domain.MediaTypeMeta {
			out = append(out, entry)
		}
	}
	return out
}

func (r *Registry) Anime(name string) (AnimeProvider, Entry, error) {
	entry, ok := r.Lookup(name)
	if !ok {
		return nil, Entry{}, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, name)
	}
	adapter, ok := entry.Adapter.(AnimeProvider)
	if !ok {
		return nil, entry, fmt.Errorf("%w: %s has no episodes", domain.ErrUnsupportedCapability, entry.Name)
	}
	return adapter, entry, nil
}

func (r *Registry) Manga(name string) (MangaProvider, Entry, error) {
	entry, ok := r.Lookup(name)
	if !ok {
		return nil, Entry{}, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, name)
	}
	adapter, ok := entry.Adapter.(MangaProvider)
	if !ok {
		return nil, entry, fmt.Errorf("%w: %s has no chapters", domain.ErrUnsupportedCapability, entry.Name)
	}
	return adapter, entry, nil
}

func (r *Registry) Infos() []Info {
	if r == nil {
		return nil
	}
	items := make([]Info, 0, len(r.entries))
	for _, entry := range r.entries {
		authoritative := false
		for _, name := range r.authoritative {
			if name == entry.Name {
				authoritative = true
			}
		}
		items = append(items, Info{
			Name:          entry.Name,
			Capability:    entry.Capability,
			Enabled:       entry.Config.Enabled,
			Authoritative: authoritative,
			Config:        entry.Config,
		})
	}
	return items
}
