package rewards

import (
	"context"

	"github.com/google/uuid"
)

// SourceData is the summary of the record a grant came from, shown next to
// the grant in the point history.
type SourceData struct {
	Kind  SourceKind `json:"kind"`
	ID    uuid.UUID  `json:"id"`
	Title string     `json:"title"`
	Date  string     `json:"date,omitempty"`
}

// SourceResolver looks up one kind of source record.
type SourceResolver interface {
	ResolveSource(ctx context.Context, id uuid.UUID) (*SourceData, error)
}

// SourceResolverFunc adapts a function to SourceResolver.
type SourceResolverFunc func(ctx context.Context, id uuid.UUID) (*SourceData, error)

func (f SourceResolverFunc) ResolveSource(ctx context.Context, id uuid.UUID) (*SourceData, error) {
	return f(ctx, id)
}

// Resolvers maps each source kind to the resolver that serves it. Kinds
// without an entry are left unresolved.
type Resolvers map[SourceKind]SourceResolver

// Resolve returns the source data for ref, or nil if ref is empty or its kind
// has no resolver.
func (rs Resolvers) Resolve(ctx context.Context, ref SourceRef) (*SourceData, error) {
	if ref.IsZero() {
		return nil, nil
	}
	resolver, ok := rs[ref.Kind]
	if !ok {
		return nil, nil
	}
	data, err := resolver.ResolveSource(ctx, ref.ID)
	if err != nil || data == nil {
		return nil, err
	}
	data.Kind = ref.Kind
	return data, nil
}
