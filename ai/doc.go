// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ai provides abstractions for the AI services medfuse depends on.
//
// Two services are defined:
//
//   - Embedder: turns questions and corpus passages into vectors for the
//     dense evidence provider
//   - EntityExtractor: finds drugs, diseases and other medical entities in a
//     question, complementing the rule-based extractor in package query
//
// AIProvider aggregates both for convenient initialization.
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible implementation built on langchaingo
//   - ai/mock: test doubles with injectable behavior and call counts
//
// Production constructors return interfaces; mock constructors return
// concrete types so tests can inject behavior and read call counts.
package ai
