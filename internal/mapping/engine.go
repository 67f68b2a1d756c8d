package mapping

import (
	"go.uber.org/zap"
)

// RecordFunc constructs a domain record from the extracted field values.
// index is the zero-based position of the record within the batch.
type RecordFunc func(fields map[string]interface{}, index int) (interface{}, error)

// Engine is the JSON-variant mapping engine.
type Engine struct {
	logger *zap.SugaredLogger
}

func NewEngine(logger *zap.SugaredLogger) *Engine {
	return &Engine{logger: logger}
}

// Locate returns the record array addressed by the mapping's array path.
// An absent path means the tree itself is the batch.
func (e *Engine) Locate(tree interface{}, em *EntityMapping) []interface{} {
	if em.ArrayPath == "" {
		return asList(tree)
	}
	located, ok := evalJSONPath(tree, em.ArrayPath)
	if !ok {
		return nil
	}
	return asList(located)
}

// MapTree locates the record array inside tree and maps every record.
func (e *Engine) MapTree(tree interface{}, em *EntityMapping, build RecordFunc) []interface{} {
	return e.MapItems(e.Locate(tree, em), em, build, 0)
}

// MapItems maps raw records into domain records. A record missing a required
// field is skipped with a warning; a constructor failure likewise. One bad
// record never fails the batch. startIndex offsets the constructor index for
// paginated batches.
func (e *Engine) MapItems(items []interface{}, em *EntityMapping, build RecordFunc, startIndex int) []interface{} {
	evaluate := func(item interface{}, path string) (interface{}, bool) {
		return evalJSONPath(item, path)
	}
	return mapRecords(e.logger, items, em, build, startIndex, evaluate)
}

// mapRecords is the engine-independent mapping core shared by the JSON and
// XML variants; evaluate resolves one path expression against one raw record.
func mapRecords(
	logger *zap.SugaredLogger,
	items []interface{},
	em *EntityMapping,
	build RecordFunc,
	startIndex int,
	evaluate func(item interface{}, path string) (interface{}, bool),
) []interface{} {
	results := make([]interface{}, 0, len(items))

	for i, item := range items {
		index := startIndex + i
		fields := make(map[string]interface{}, len(em.Fields))
		skip := false

		for name, fm := range em.Fields {
			value, ok := evaluate(item, fm.Path)
			if !ok || value == nil {
				value = fm.Default
			}

			if value == nil {
				if fm.Required {
					logger.Warnf("Skipping record %d: required field %q is missing", index, name)
					skip = true
					break
				}
				continue
			}

			transformed, err := applyTransform(fm.Transform, value)
			if err != nil {
				if fm.Required {
					logger.Warnf("Skipping record %d: field %q transform failed: %v", index, name, err)
					skip = true
					break
				}
				logger.Warnf("Record %d: dropping field %q: %v", index, name, err)
				continue
			}
			fields[name] = transformed
		}

		if skip {
			continue
		}

		record, err := build(fields, index)
		if err != nil {
			logger.Warnf("Skipping record %d: constructor failed: %v", index, err)
			continue
		}
		results = append(results, record)
	}

	return results
}
