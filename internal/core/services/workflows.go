package services

import (
	"github.com/manthysbr/umbrella/internal/core/domain"
)

// Workflow is a pure template turning job content into subtasks.
type Workflow struct {
	// Required content fields, checked in order before Build runs.
	Required []string
	Build    func(content, jobCtx map[string]any) []domain.SubtaskSpec
}

// BuiltinWorkflows returns the job types the orchestrator ships with.
func BuiltinWorkflows() map[string]Workflow {
	return map[string]Workflow{
		"document_analysis":  {Required: []string{"file"}, Build: documentAnalysis},
		"web_research":       {Required: []string{"url"}, Build: webResearch},
		"chat_with_context":  {Required: []string{"query"}, Build: chatWithContext},
		"sentiment_analysis": {Required: []string{"text"}, Build: sentimentAnalysis},
	}
}

func documentAnalysis(content, jobCtx map[string]any) []domain.SubtaskSpec {
	file := content["file"]
	specs := []domain.SubtaskSpec{
		{
			ID:       "extract",
			Service:  domain.ServicePDFExtraction,
			Action:   "extract",
			Input:    map[string]any{"file": file},
			Priority: 1,
		},
		{
			ID:           "analyze",
			Service:      domain.ServiceSentiment,
			Action:       "analyze",
			Input:        map[string]any{"text": domain.Ref("extract", "text")},
			Dependencies: []domain.SubtaskID{"extract"},
			Priority:     2,
		},
		{
			ID:      "store",
			Service: domain.ServiceVectorDB,
			Action:  "store",
			Input: map[string]any{
				"text": domain.Ref("extract", "text"),
				"metadata": map[string]any{
					"source":    file,
					"sentiment": domain.Ref("analyze", "sentiment"),
				},
			},
			Dependencies: []domain.SubtaskID{"extract", "analyze"},
			Priority:     3,
		},
	}

	if b, _ := content["summary"].(bool); b {
		input := map[string]any{
			"message":   "Summarize the following document.",
			"context":   domain.Ref("extract", "text"),
			"sentiment": domain.Ref("analyze", "sentiment"),
		}
		withSession(input, jobCtx)
		specs = append(specs, domain.SubtaskSpec{
			ID:           "summarize",
			Service:      domain.ServiceChatbot,
			Action:       "chat",
			Input:        input,
			Dependencies: []domain.SubtaskID{"extract", "analyze"},
			Priority:     3,
		})
	}
	return specs
}

func webResearch(content, _ map[string]any) []domain.SubtaskSpec {
	url := content["url"]
	depth := 1
	if n, ok := intValue(content["max_depth"]); ok && n > 0 {
		depth = n
	}

	specs := []domain.SubtaskSpec{{
		ID:       "scrape",
		Service:  domain.ServiceRAGScraper,
		Action:   "scrape",
		Input:    map[string]any{"url": url, "max_depth": depth},
		Priority: 1,
	}}

	storeInput := map[string]any{
		"text":     domain.Ref("scrape", "content"),
		"metadata": map[string]any{"source": url},
	}
	storeDeps := []domain.SubtaskID{"scrape"}

	if analyze, set := content["analyze"].(bool); !set || analyze {
		specs = append(specs, domain.SubtaskSpec{
			ID:           "analyze",
			Service:      domain.ServiceSentiment,
			Action:       "analyze",
			Input:        map[string]any{"text": domain.Ref("scrape", "content")},
			Dependencies: []domain.SubtaskID{"scrape"},
			Priority:     2,
		})
		storeInput["metadata"].(map[string]any)["sentiment"] = domain.Ref("analyze", "sentiment")
		storeDeps = append(storeDeps, "analyze")
	}

	return append(specs, domain.SubtaskSpec{
		ID:           "store",
		Service:      domain.ServiceVectorDB,
		Action:       "store",
		Input:        storeInput,
		Dependencies: storeDeps,
		Priority:     3,
	})
}

func chatWithContext(content, jobCtx map[string]any) []domain.SubtaskSpec {
	query := content["query"]
	k := 3
	if n, ok := intValue(jobCtx["num_documents"]); ok && n > 0 {
		k = n
	}

	respond := map[string]any{
		"message": query,
		"context": domain.Ref("retrieve", "results"),
	}
	withSession(respond, jobCtx)

	return []domain.SubtaskSpec{
		{
			ID:       "retrieve",
			Service:  domain.ServiceVectorDB,
			Action:   "search",
			Input:    map[string]any{"query": query, "k": k},
			Priority: 1,
		},
		{
			ID:           "respond",
			Service:      domain.ServiceChatbot,
			Action:       "chat",
			Input:        respond,
			Dependencies: []domain.SubtaskID{"retrieve"},
			Priority:     2,
		},
	}
}

func sentimentAnalysis(content, _ map[string]any) []domain.SubtaskSpec {
	granularity := "document"
	if g, ok := content["granularity"].(string); ok && g != "" {
		granularity = g
	}
	input := map[string]any{
		"text":        content["text"],
		"granularity": granularity,
	}
	if aspects, ok := content["aspects"]; ok {
		input["aspects"] = aspects
	}
	return []domain.SubtaskSpec{{
		ID:       "analyze",
		Service:  domain.ServiceSentiment,
		Action:   "analyze",
		Input:    input,
		Priority: 1,
	}}
}

func withSession(input, jobCtx map[string]any) {
	if sid, ok := jobCtx["session_id"].(string); ok && sid != "" {
		input["session_id"] = sid
	}
}

// intValue accepts the numeric shapes JSON decoding and Go callers produce.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
