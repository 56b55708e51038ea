// internal/app/providers.go
package app

// backends register themselves with the llm registry on import
import (
	_ "github.com/Corphon/ManimStudio/internal/llm/providers/google"
	_ "github.com/Corphon/ManimStudio/internal/llm/providers/openrouter"
)
