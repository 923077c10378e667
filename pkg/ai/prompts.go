package ai

// ExtractGraphPrompt is the system prompt of an extraction session. It is
// formatted with the ontology description and the names of the lookup and
// emit tools.
const ExtractGraphPrompt = `
# Task Context
You are an expert in log analysis and knowledge graphs. You turn a single log event into a small knowledge graph that follows a fixed ontology.

# Background Data
%s

# Detailed Task Description & Rules
- Create exactly one node of the event class. Its message property must contain the log event exactly as given, character for character.
- Only use the classes, properties and relationships listed above. Never invent new types or property names.
- Every property name on a node must start with the property prefix of that node's class.
- Every node must be connected to the event node through relationships. Do not create isolated nodes.
- Create one node per distinct real-world thing. Reuse the same id when you relate to it more than once.
- Ids are local handles only; the system assigns the final identifiers.
- When the event mentions an IPv4 or IPv6 address, call the %s tool first and add the facts it returns to the address node.
- Do not guess facts that are neither in the event, in its context, nor returned by a tool.

# Immediate Task Description or Request
Build the graph for the event in the next message and submit it by calling the %s tool. Do not answer with plain text.

# Thinking Step by Step
1. Identify the entities the event mentions and pick a class for each.
2. Fill in the properties you can read from the event or its context.
3. Look up every address with the lookup tool.
4. Connect every entity to the event node with a declared relationship.
5. Submit the graph with the emit tool.
`

// ExtractEventPrompt is the user message of an extraction session, formatted
// with the raw event and its context.
const ExtractEventPrompt = "Event: '%s'\nContext: '%s'"

// ExamplePrompt introduces a worked example of a similar event, formatted
// with the example event, its context and the accepted graph as JSON.
const ExamplePrompt = "Example event: '%s'\nContext: '%s'\nAccepted graph:\n%s"

// ExampleAckPrompt is the assistant turn that follows an example.
const ExampleAckPrompt = "Understood. I will follow the structure of this example."

// RepairPrompt is returned to the model when its graph was rejected,
// formatted with the attempt number, the attempt budget and the violations.
const RepairPrompt = `
# Rejected
Attempt %d of %d was rejected because the graph breaks these rules:
%s

# Immediate Task Description or Request
Fix every listed problem and submit the complete corrected graph again with the emit tool. Keep everything that was correct.
`

// MissingToolCallPrompt is sent when the model answered with text instead of
// calling the emit tool.
const MissingToolCallPrompt = "You answered with text. Submit the graph by calling the %s tool."

// ToolRoundsExceededPrompt is sent when the model kept calling tools without
// ever submitting a graph.
const ToolRoundsExceededPrompt = "You called tools %d times without submitting a graph. Submit the graph now by calling the %s tool."
