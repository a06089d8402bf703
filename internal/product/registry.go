package product

import "fmt"

// DefaultTypes maps the store's product type tags to their reservation kind.
var DefaultTypes = map[string]Kind{
	"game-pc-steam":   KindGame,
	"game-pc-epic":    KindGame,
	"game-pc-ubisoft": KindGame,
	"gift-card":       KindGiftCard,
	"steam-gem":       KindSteam,
	"steam-tf2":       KindSteam,
}

// Registry resolves a product to its Reservable by type tag. The mapping is
// fixed once built.
type Registry struct {
	kinds map[string]Kind
}

func NewRegistry(types map[string]Kind) (*Registry, error) {
	kinds := make(map[string]Kind, len(types))
	for tag, kind := range types {
		if tag == "" {
			return nil, fmt.Errorf("product type with empty tag")
		}
		switch kind {
		case KindGame, KindGiftCard, KindSteam:
		default:
			return nil, fmt.Errorf("product type %q has unknown kind %d", tag, kind)
		}
		kinds[tag] = kind
	}
	return &Registry{kinds: kinds}, nil
}

func (r *Registry) Resolve(p *Product) (Reservable, bool) {
	if p == nil || p.TypeName == "" {
		return nil, false
	}

	kind, ok := r.kinds[p.TypeName]
	if !ok {
		return nil, false
	}

	switch kind {
	case KindGame:
		return &Game{counter{product: p, requirement: requirements[p.TypeName]}}, true
	case KindSteam:
		return &Steam{counter{product: p, requirement: requirements[p.TypeName]}}, true
	case KindGiftCard:
		return &GiftCard{product: p}, true
	}
	return nil, false
}
