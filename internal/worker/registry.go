package worker

// Registry selects the validation strategy for a topic. Topics without a
// registered strategy use the fallback, normally the custom SMTP engine.
type Registry struct {
	fallback Validator
	byTopic  map[string]Validator
}

// NewRegistry creates a registry around a fallback strategy
func NewRegistry(fallback Validator) *Registry {
	return &Registry{
		fallback: fallback,
		byTopic:  make(map[string]Validator),
	}
}

// Register binds v to topic
func (r *Registry) Register(topic string, v Validator) {
	r.byTopic[topic] = v
}

// For returns the strategy serving topic
func (r *Registry) For(topic string) Validator {
	if v, ok := r.byTopic[topic]; ok {
		return v
	}
	return r.fallback
}
