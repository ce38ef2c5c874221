package utils

// OptimisticUpdate applies speculative through apply, then persists it. When
// persisting fails the current state is applied back and the error returned.
func OptimisticUpdate[T any](current, speculative T, apply func(T), persist func(T) error) (T, error) {
	apply(speculative)
	if err := persist(speculative); err != nil {
		apply(current)
		return current, err
	}
	return speculative, nil
}
