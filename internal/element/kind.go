package element

import "strings"

// Kind is the structural role of a type tag.
type Kind int

const (
	KindOther Kind = iota
	KindDefinition
	KindUsage
	KindRelationship
)

func (k Kind) String() string {
	switch k {
	case KindDefinition:
		return "definition"
	case KindUsage:
		return "usage"
	case KindRelationship:
		return "relationship"
	default:
		return "other"
	}
}

// Default classification rules.
var (
	DefaultDefinitionSuffixes = []string{"Definition"}
	DefaultUsageSuffixes      = []string{"Usage"}
	DefaultRelationshipKinds  = []string{"Satisfies", "Derives", "Refines"}
)

// Classifier maps type tags to kinds by rule, so every tag goes through
// the same code path regardless of how many tags the backend defines.
type Classifier struct {
	DefinitionSuffixes []string
	UsageSuffixes      []string
	RelationshipKinds  []string
}

// DefaultClassifier returns the classifier for the requirement model.
func DefaultClassifier() Classifier {
	return Classifier{
		DefinitionSuffixes: DefaultDefinitionSuffixes,
		UsageSuffixes:      DefaultUsageSuffixes,
		RelationshipKinds:  DefaultRelationshipKinds,
	}
}

// Kind classifies typeTag. Relationship names are matched first, then
// definition suffixes, then usage suffixes.
func (c Classifier) Kind(typeTag string) Kind {
	for _, rel := range c.RelationshipKinds {
		if typeTag == rel {
			return KindRelationship
		}
	}
	for _, s := range c.DefinitionSuffixes {
		if s != "" && strings.HasSuffix(typeTag, s) {
			return KindDefinition
		}
	}
	for _, s := range c.UsageSuffixes {
		if s != "" && strings.HasSuffix(typeTag, s) {
			return KindUsage
		}
	}
	return KindOther
}

// IsZero reports whether no rule is configured.
func (c Classifier) IsZero() bool {
	return len(c.DefinitionSuffixes) == 0 && len(c.UsageSuffixes) == 0 && len(c.RelationshipKinds) == 0
}
