package formrelay

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-formrelay/core"
)

// ChannelPack groups extra channel adapters contributed by a downstream
// package.
type ChannelPack struct {
	Name     string
	Channels []core.ChannelAdapter
}

// SinkPack groups extra outcome sinks.
type SinkPack struct {
	Name  string
	Sinks []core.OutcomeSink
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	channelPacks map[string]ChannelPack
	sinkPacks    map[string]SinkPack
	bundles      map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		channelPacks: map[string]ChannelPack{},
		sinkPacks:    map[string]SinkPack{},
		bundles:      map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterChannelPack(pack ChannelPack) error {
	if h == nil {
		return fmt.Errorf("formrelay: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("formrelay: channel pack name is required")
	}
	if len(pack.Channels) == 0 {
		return fmt.Errorf("formrelay: channel pack %q has no channels", name)
	}
	for _, channel := range pack.Channels {
		if channel == nil {
			return fmt.Errorf("formrelay: channel pack %q contains nil channel", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.channelPacks[name]; exists {
		return fmt.Errorf("formrelay: channel pack %q already registered", name)
	}
	h.channelPacks[name] = ChannelPack{
		Name:     name,
		Channels: append([]core.ChannelAdapter(nil), pack.Channels...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterSinkPack(pack SinkPack) error {
	if h == nil {
		return fmt.Errorf("formrelay: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("formrelay: sink pack name is required")
	}
	if len(pack.Sinks) == 0 {
		return fmt.Errorf("formrelay: sink pack %q has no sinks", name)
	}
	for _, sink := range pack.Sinks {
		if sink == nil {
			return fmt.Errorf("formrelay: sink pack %q contains nil sink", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sinkPacks[name]; exists {
		return fmt.Errorf("formrelay: sink pack %q already registered", name)
	}
	h.sinkPacks[name] = SinkPack{
		Name:  name,
		Sinks: append([]core.OutcomeSink(nil), pack.Sinks...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("formrelay: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("formrelay: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("formrelay: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("formrelay: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// Options turns the registered packs into service options, in pack name
// order.
func (h *ExtensionHooks) Options() []Option {
	if h == nil {
		return nil
	}
	opts := []Option{}
	for _, pack := range h.ChannelPacks() {
		opts = append(opts, core.WithChannels(pack.Channels...))
	}
	for _, pack := range h.SinkPacks() {
		opts = append(opts, core.WithOutcomeSinks(pack.Sinks...))
	}
	return opts
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("formrelay: command/query service is required")
	}

	h.mu.RLock()
	names := sortedKeys(h.bundles)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ChannelPacks() []ChannelPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ChannelPack, 0, len(h.channelPacks))
	for _, name := range sortedKeys(h.channelPacks) {
		pack := h.channelPacks[name]
		out = append(out, ChannelPack{
			Name:     pack.Name,
			Channels: append([]core.ChannelAdapter(nil), pack.Channels...),
		})
	}
	return out
}

func (h *ExtensionHooks) SinkPacks() []SinkPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]SinkPack, 0, len(h.sinkPacks))
	for _, name := range sortedKeys(h.sinkPacks) {
		pack := h.sinkPacks[name]
		out = append(out, SinkPack{
			Name:  pack.Name,
			Sinks: append([]core.OutcomeSink(nil), pack.Sinks...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](items map[string]V) []string {
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
