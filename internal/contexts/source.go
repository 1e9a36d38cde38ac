package contexts

import "context"

// Source tells where an execution originated.
type Source string

const (
	SourceUnknown Source = ""
	SourceHTTP    Source = "http"
	SourceJob     Source = "job"
	SourceSystem  Source = "system"
	SourceTest    Source = "test"
)

func (s Source) String() string {
	if s == SourceUnknown {
		return "unknown"
	}

	return string(s)
}

// GetSourceOrDefault returns the source of the current execution, or def when none is bound.
func GetSourceOrDefault(ctx context.Context, def Source) Source {
	exec, ok := Current(ctx)
	if !ok || exec.Source == SourceUnknown {
		return def
	}

	return exec.Source
}
