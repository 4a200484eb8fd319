// Package llm wraps the language-model backend behind two gateways:
//
//   - Embedder converts free text into fixed-length vectors for similarity
//     search. It performs at most one internal retry with backoff before
//     surfacing ErrEmbedding.
//   - Completer generates reply text, optionally grounded in web search.
//     Generation is never retried here and runs under a bounded timeout;
//     callers distinguish ErrGenerationTimeout from ErrGeneration.
//
// Both gateways are thin: prompt construction and provider plumbing live
// here, decision logic lives in the engine package.
package llm
