// Package relm reconciles free-text LLM output with structured expectations.
//
// It targets locally-hosted inference servers: send a prompt, advertise a
// set of callable tools, parse the model's text for tool invocations and a
// JSON answer, execute the tools, and retry generation with corrective
// reminders until a caller-supplied JSON Schema validates or the attempt
// budget runs out.
//
// # Quick Start
//
//	llm, err := ollama.New(ollama.WithServerURL("http://localhost:11434"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	agent := relm.New(models.NewLCG(llm), relm.Config{Model: "llama3.1"})
//
//	err = agent.AddTools(relm.NewTool(
//	    "parse_customer_id",
//	    "Normalize a raw customer id into canonical form",
//	    []relm.Parameter{
//	        {Name: "customerid", Type: relm.ParamNumber, Required: true},
//	    },
//	    func(ctx context.Context, args map[string]any) (any, error) {
//	        return normalize(args["customerid"]), nil
//	    },
//	))
//
//	sch := schema.MustCompile(map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	        "customer_id": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"customer_id"},
//	})
//
//	res, err := agent.GenerateWithSchema(ctx, sch, relm.Request{
//	    Prompt: "Find the canonical id for customer 1451.",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if res.ValidationErr != "" {
//	    log.Fatalf("model never produced a valid answer: %s", res.ValidationErr)
//	}
//	fmt.Println(res.Parsed["customer_id"])
//
// # Components
//
//   - [Registry] holds and dispatches tools.
//   - [BuildInstructions] renders the tool catalog and schema rules.
//   - [ParseResponse] extracts tool calls and the JSON candidate from raw
//     model text.
//   - [Agent] runs the reconciliation loop with bounded retries.
//
// The generation transport is abstracted behind [Model]; the models
// subpackage binds it to LangChainGo, which covers Ollama and other
// providers.
package relm
