package queue

import (
	"context"
)

const TopicExampleQueries = "corpus.example_queries_requested"

type ExampleQueriesEvent struct {
	CorpusID int64  `json:"corpus_id"`
	Name     string `json:"name"`
}

// ExampleRequester hands example query generation to whichever service
// subscribes to TopicExampleQueries.
type ExampleRequester struct {
	Events Publisher
}

func (r *ExampleRequester) Generate(ctx context.Context, corpusID int64, corpus string) error {
	data, err := encode(ExampleQueriesEvent{CorpusID: corpusID, Name: corpus})
	if err != nil {
		return err
	}
	return PublishTopic(ctx, r.Events, TopicExampleQueries, data)
}
