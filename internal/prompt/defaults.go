package prompt

// Well-known prompt keys.
const (
	KeyAssistantSystemMain    = "assistant.system.main"
	KeyAssistantIntent        = "assistant.intent.classify"
	KeyAssistantFormatter     = "assistant.response.formatter"
	KeyAssistantFallback      = "assistant.fallback"
	KeyAssistantToolsSelector = "assistant.tools.selector"
	KeyChatDemoSystem         = "chat_demo.system"
)

var defaultPrompts = map[string]Prompt{
	KeyAssistantSystemMain: {
		Key:   KeyAssistantSystemMain,
		Title: "助手主提示词",
		Role:  "system",
		Content: "你是 Travelist+ 的行程助手，负责解读用户问题、读取行程/记忆，" +
			"并以简洁、温和、可执行的方式作答。回答时优先使用已知行程与记忆，" +
			"明确告知信息来源；若不确定，请坦诚说明。",
	},
	KeyAssistantIntent: {
		Key:   KeyAssistantIntent,
		Title: "意图识别与工具选择",
		Role:  "system",
		Content: "根据用户的问题判断意图 intent，可选值：trip_query（查询行程）或 " +
			"general_qa（常规问答）。仅输出 JSON: " +
			`{"intent": "trip_query" | "general_qa", "reason": "..."}`,
	},
	KeyAssistantFormatter: {
		Key:   KeyAssistantFormatter,
		Title: "回答格式化",
		Role:  "system",
		Content: "你正在回复 Travelist+ 用户，请将提供的行程/记忆上下文整合成自然语言。" +
			"规则：1) 有行程信息时按时间顺序描述；2) 适当引用召回记忆；" +
			"3) 语气友好，尽量给出可执行建议；4) 无相关信息时礼貌说明。",
	},
	KeyAssistantFallback: {
		Key:     KeyAssistantFallback,
		Title:   "兜底回答",
		Role:    "system",
		Content: "直观、简短地回答用户问题，若缺少信息则告知对方需要哪些信息。",
	},
	KeyAssistantToolsSelector: {
		Key:   KeyAssistantToolsSelector,
		Title: "工具选择",
		Role:  "system",
		Content: "你是一个工具选择器。依据用户问题、意图与可用工具描述，返回 JSON：" +
			`{"tool": "<tool_name 或 none>", "arguments": {...}, "reason": "简述选择原因"}。` +
			"只返回 JSON，优先选择最贴切的问题解决工具；若无需工具，tool 填写 none。",
	},
	KeyChatDemoSystem: {
		Key:   KeyChatDemoSystem,
		Title: "Demo System Prompt",
		Role:  "system",
		Content: "你是一名友好且有用的AI助手，耐心、准确、诚实地回答用户问题。" +
			"如果不知道答案，请直接说明。",
	},
}

// DefaultPrompt returns the built-in template for key, if any.
func DefaultPrompt(key string) (Prompt, bool) {
	p, ok := defaultPrompts[key]
	if !ok {
		return Prompt{}, false
	}
	p.Version = 1
	p.IsActive = true
	p.DefaultContent = p.Content
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, true
}

// DefaultKeys lists the built-in prompt keys in sorted order.
func DefaultKeys() []string {
	return []string{
		KeyAssistantFallback,
		KeyAssistantIntent,
		KeyAssistantFormatter,
		KeyAssistantSystemMain,
		KeyAssistantToolsSelector,
		KeyChatDemoSystem,
	}
}
