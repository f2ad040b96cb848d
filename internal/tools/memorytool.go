package tools

import (
	"context"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/memory"
	"github.com/mcp-jive/jive/internal/search"
)

// Memory is jive_memory: the Architecture and Troubleshoot knowledge
// stores, context assembly, problem matching and markdown import/export.
type Memory struct {
	repo *memory.Repo
}

// NewMemory creates the tool.
func NewMemory(repo *memory.Repo) *Memory {
	return &Memory{repo: repo}
}

func (t *Memory) Name() string { return "jive_memory" }

func (t *Memory) Description() string {
	return "Manage Architecture and Troubleshoot memory: CRUD by slug, search, context assembly, problem matching, and markdown import/export."
}

func (t *Memory) Schema() map[string]any {
	return schemaObject(map[string]any{
		"action": schemaAction("create", "update", "delete", "get", "list", "search", "get_context",
			"match_problem", "report_success", "export", "import", "export_batch", "import_batch"),
		"memory_type":         schemaEnum("Which store to address.", "architecture", "troubleshoot"),
		"namespace":           namespaceProp(),
		"unique_slug":         schemaStr("Kebab-case identifier, unique per namespace."),
		"title":               schemaStr("Item title."),
		"ai_when_to_use":      schemaStrs("Situations this architecture guidance applies to."),
		"ai_requirements":     schemaStr("The architecture guidance body."),
		"children_slugs":      schemaStrs("Child items for context drill-down."),
		"related_slugs":       schemaStrs("Laterally related items."),
		"linked_epic_ids":     schemaStrs("Associated work item epics."),
		"ai_use_case":         schemaStr("Problem signatures the matcher searches."),
		"ai_solutions":        schemaStr("The troubleshoot fix body."),
		"keywords":            schemaStrs("Search keywords."),
		"tags":                schemaStrs("Labels."),
		"patch":               map[string]any{"type": "object", "description": "Fields to change on update."},
		"query":               schemaStr("Search query (search)."),
		"search_type":         schemaEnum("Scoring mode for search.", "semantic", "keyword", "hybrid"),
		"limit":               schemaInt("Maximum results."),
		"token_budget":        schemaInt("Token budget for get_context, default 4000."),
		"problem_description": schemaStr("Free-text problem for match_problem."),
		"markdown":            schemaStr("Markdown document for import."),
		"documents":           schemaStrs("Markdown documents for import_batch."),
		"import_mode":         schemaEnum("Conflict handling on import.", "merge", "skip_existing"),
	}, "action", "memory_type")
}

func (t *Memory) Handle(ctx context.Context, call *Call, args map[string]any) (any, error) {
	typ := memory.Type(strArg(args, "memory_type"))
	switch strArg(args, "action") {
	case "create":
		return t.create(ctx, call, typ, args)
	case "update":
		return t.update(ctx, call, typ, args)
	case "delete":
		slug, err := requireStr(args, "unique_slug")
		if err != nil {
			return nil, err
		}
		if err := t.repo.Delete(ctx, call.Namespace, typ, slug); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true, "unique_slug": slug}, nil
	case "get":
		return t.get(ctx, call, typ, args)
	case "list":
		return t.list(ctx, call, typ)
	case "search":
		return t.search(ctx, call, typ, args)
	case "get_context":
		slug, err := requireStr(args, "unique_slug")
		if err != nil {
			return nil, err
		}
		return t.repo.GetContext(ctx, call.Namespace, slug, intArg(args, "token_budget", 0))
	case "match_problem":
		desc, err := requireStr(args, "problem_description")
		if err != nil {
			return nil, err
		}
		limit, err := limitArg(call, args, search.MaxLimit)
		if err != nil {
			return nil, err
		}
		matches, err := t.repo.MatchProblem(ctx, call.Namespace, desc, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"matches": matches, "total": len(matches)}, nil
	case "report_success":
		slug, err := requireStr(args, "unique_slug")
		if err != nil {
			return nil, err
		}
		item, err := t.repo.ReportSuccess(ctx, call.Namespace, slug)
		if err != nil {
			return nil, err
		}
		return map[string]any{"item": item}, nil
	case "export":
		slug, err := requireStr(args, "unique_slug")
		if err != nil {
			return nil, err
		}
		doc, err := t.repo.Export(ctx, call.Namespace, typ, slug)
		if err != nil {
			return nil, err
		}
		return map[string]any{"markdown": doc}, nil
	case "export_batch":
		docs, err := t.repo.ExportBatch(ctx, call.Namespace, typ)
		if err != nil {
			return nil, err
		}
		return map[string]any{"documents": docs, "total": len(docs)}, nil
	case "import":
		doc, err := requireStr(args, "markdown")
		if err != nil {
			return nil, err
		}
		res, err := t.repo.Import(ctx, call.Namespace, typ, doc, importMode(args))
		if err != nil {
			return nil, err
		}
		for _, w := range res.Warnings {
			call.Warn("%s", w)
		}
		return res, nil
	case "import_batch":
		docs := strsArg(args, "documents")
		if len(docs) == 0 {
			return nil, errs.Validation("documents", "must not be empty")
		}
		results, err := t.repo.ImportBatch(ctx, call.Namespace, typ, docs, importMode(args))
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			for _, w := range res.Warnings {
				call.Warn("%s", w)
			}
		}
		return map[string]any{"results": results, "total": len(results)}, nil
	}
	return nil, errs.Newf(errs.CodeInvalidAction, "action %q is not supported by %s", strArg(args, "action"), t.Name())
}

func importMode(args map[string]any) memory.ImportMode {
	if strArg(args, "import_mode") == "skip_existing" {
		return memory.ImportSkipExisting
	}
	return memory.ImportMerge
}

func (t *Memory) create(ctx context.Context, call *Call, typ memory.Type, args map[string]any) (any, error) {
	slug, err := requireStr(args, "unique_slug")
	if err != nil {
		return nil, err
	}
	title, err := requireStr(args, "title")
	if err != nil {
		return nil, err
	}
	switch typ {
	case memory.TypeArchitecture:
		item, err := t.repo.CreateArchitecture(ctx, call.Namespace, &memory.ArchitectureItem{
			Slug:           slug,
			Title:          title,
			AIWhenToUse:    strsArg(args, "ai_when_to_use"),
			AIRequirements: strArg(args, "ai_requirements"),
			ChildrenSlugs:  strsArg(args, "children_slugs"),
			RelatedSlugs:   strsArg(args, "related_slugs"),
			LinkedEpicIDs:  strsArg(args, "linked_epic_ids"),
			Keywords:       strsArg(args, "keywords"),
			Tags:           strsArg(args, "tags"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"item": item}, nil
	case memory.TypeTroubleshoot:
		item, err := t.repo.CreateTroubleshoot(ctx, call.Namespace, &memory.TroubleshootItem{
			Slug:        slug,
			Title:       title,
			AIUseCase:   strArg(args, "ai_use_case"),
			AISolutions: strArg(args, "ai_solutions"),
			Keywords:    strsArg(args, "keywords"),
			Tags:        strsArg(args, "tags"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"item": item}, nil
	}
	return nil, errs.Validation("memory_type", "must be architecture or troubleshoot")
}

func (t *Memory) update(ctx context.Context, call *Call, typ memory.Type, args map[string]any) (any, error) {
	slug, err := requireStr(args, "unique_slug")
	if err != nil {
		return nil, err
	}
	patch, _ := args["patch"].(map[string]any)
	if len(patch) == 0 {
		return nil, errs.Validation("patch", "must not be empty")
	}
	switch typ {
	case memory.TypeArchitecture:
		item, err := t.repo.UpdateArchitecture(ctx, call.Namespace, slug, patch)
		if err != nil {
			return nil, err
		}
		return map[string]any{"item": item}, nil
	case memory.TypeTroubleshoot:
		item, err := t.repo.UpdateTroubleshoot(ctx, call.Namespace, slug, patch)
		if err != nil {
			return nil, err
		}
		return map[string]any{"item": item}, nil
	}
	return nil, errs.Validation("memory_type", "must be architecture or troubleshoot")
}

func (t *Memory) get(ctx context.Context, call *Call, typ memory.Type, args map[string]any) (any, error) {
	slug, err := requireStr(args, "unique_slug")
	if err != nil {
		return nil, err
	}
	switch typ {
	case memory.TypeArchitecture:
		item, err := t.repo.GetArchitecture(ctx, call.Namespace, slug)
		if err != nil {
			return nil, err
		}
		return map[string]any{"item": item}, nil
	case memory.TypeTroubleshoot:
		item, err := t.repo.GetTroubleshoot(ctx, call.Namespace, slug)
		if err != nil {
			return nil, err
		}
		return map[string]any{"item": item}, nil
	}
	return nil, errs.Validation("memory_type", "must be architecture or troubleshoot")
}

func (t *Memory) list(ctx context.Context, call *Call, typ memory.Type) (any, error) {
	switch typ {
	case memory.TypeArchitecture:
		items, err := t.repo.ListArchitecture(ctx, call.Namespace)
		if err != nil {
			return nil, err
		}
		return map[string]any{"items": items, "total": len(items)}, nil
	case memory.TypeTroubleshoot:
		items, err := t.repo.ListTroubleshoot(ctx, call.Namespace)
		if err != nil {
			return nil, err
		}
		return map[string]any{"items": items, "total": len(items)}, nil
	}
	return nil, errs.Validation("memory_type", "must be architecture or troubleshoot")
}

func (t *Memory) search(ctx context.Context, call *Call, typ memory.Type, args map[string]any) (any, error) {
	query, err := requireStr(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := limitArg(call, args, search.MaxLimit)
	if err != nil {
		return nil, err
	}
	mode := search.Mode(strArg(args, "search_type"))
	if mode == "" {
		mode = search.ModeHybrid
	}
	hits, err := t.repo.Search(ctx, call.Namespace, typ, query, mode, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": hits, "total": len(hits)}, nil
}
