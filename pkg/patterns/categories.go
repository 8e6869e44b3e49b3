package patterns

// =============================================================================
// PATTERN DEFINITIONS BY CATEGORY
// All patterns are registered here and compiled once at package init.
// This provides a single source of truth for the deterministic detectors.
//
// Detectors run over SANITIZED text, which has already been HTML-escaped.
// Patterns that rely on markup characters therefore match both the raw and
// the escaped form (e.g. "<" and "&lt;", "'" and "&#39;").
// =============================================================================

// --- SQL INJECTION SIGNALS ---
// Each pattern is an independent signal; the detector's confidence grows
// monotonically with the number of distinct signals that co-occur.
func (r *Registry) registerSQLInjectionPatterns() {
	cat := CategorySQLInjection

	r.register("sql_union_select", `(?i)\bunion\b.{0,60}\bselect\b`, cat, 80, "UNION-based set operation")
	r.register("sql_select_from", `(?i)\bselect\b.{1,80}\bfrom\b`, cat, 60, "SELECT ... FROM statement")
	r.register("sql_dml_statement", `(?i)\b(insert\s+into|update\s+\w+\s+set|delete\s+from|drop\s+(table|database))\b`, cat, 70, "Data-modifying SQL statement")
	r.register("sql_exec_call", `(?i)\b(exec|execute)\s*\(`, cat, 70, "Stored procedure execution")
	// "#" preceded by "&" is an HTML entity artifact, not a comment
	r.register("sql_comment_marker", `--|/\*|(^|[^&])#`, cat, 40, "SQL comment marker")
	r.register("sql_always_true", `(?i)\b1\s*=\s*1\b`, cat, 70, "Always-true predicate")
	r.register("sql_quoted_or", `(?i)('|&#39;)\s*or\s+`, cat, 60, "Quote-breaking OR clause")
	r.register("sql_or_equals", `(?i)\bor\b\s+\S{1,40}\s*=`, cat, 50, "OR with equality predicate")
	r.register("sql_statement_stack", `;\s*(?i:select|insert|update|delete|drop)\b`, cat, 60, "Stacked statement after terminator")
	r.register("sql_time_based", `(?i)\b(sleep|benchmark)\s*\(|\bwaitfor\s+delay\b`, cat, 70, "Time-based blind injection probe")
}

// --- XSS STRUCTURAL MARKERS ---
func (r *Registry) registerXSSPatterns() {
	cat := CategoryXSS

	r.register("xss_script_tag", `(?i)(<|&lt;)\s*/?\s*script\b`, cat, 80, "Script tag (raw or escaped)")
	r.register("xss_event_handler", `(?i)\bon(click|error|load|mouseover|mouseout|focus|blur|submit|keydown|keyup|change)\s*=`, cat, 60, "Inline event-handler attribute")
	r.register("xss_script_scheme", `(?i)\b(javascript|vbscript)\s*:`, cat, 70, "Script-scheme URI")
	r.register("xss_embed_element", `(?i)(<|&lt;)\s*(iframe|object|embed)\b`, cat, 60, "Embedded content element")
	r.register("xss_img_src", `(?i)(<|&lt;)\s*img[^>]{0,100}src`, cat, 50, "Image tag with source")
	r.register("xss_eval_call", `(?i)\b(eval|expression)\s*\(`, cat, 60, "Dynamic code evaluation")
	r.register("xss_data_html_uri", `(?i)data:text/html`, cat, 60, "HTML data URI")
}

// --- COMMAND INJECTION ---
// A metacharacter alone is a weak signal; the detector raises confidence
// when a metacharacter co-occurs with a known command token. Destructive
// tokens are hard blocks on their own.
func (r *Registry) registerCommandInjectionPatterns() {
	cat := CategoryCommandInjection

	// bare "&" is excluded: escaped text is full of entity ampersands
	r.register("cmd_metacharacter", "[;|]|\\$\\(|`", cat, 25, "Shell metacharacter")
	r.register("cmd_substitution", "\\$\\([^)]{0,200}\\)|`[^`]{1,200}`", cat, 50, "Command substitution")
	r.register("cmd_chaining", `&&|\|\|`, cat, 40, "Command chaining operator")
	r.register("cmd_redirection", `(>|&gt;|<|&lt;)\s*/`, cat, 40, "File redirection to absolute path")
	r.register("cmd_recon_token", `(?i)\b(cat|ls|whoami|pwd|id|uname)\b`, cat, 40, "Reconnaissance command token")
	r.register("cmd_network_token", `(?i)\b(curl|wget|nc|netcat|ssh|scp)\b`, cat, 45, "Network command token")
	r.register("cmd_mutation_token", `(?i)\b(chmod|chown|mv|cp|kill|pkill)\b`, cat, 45, "File/process mutation token")

	r.registerHard("cmd_destructive_rm", `(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)\b`, cat, 95, "Recursive forced delete")
	r.registerHard("cmd_destructive_mkfs", `(?i)\bmkfs(\.\w+)?\b`, cat, 95, "Filesystem format command")
	r.registerHard("cmd_destructive_dd", `(?i)\bdd\s+[^|;]{0,80}of=\s*/dev/`, cat, 95, "Raw device overwrite")
	r.registerHard("cmd_fork_bomb", `:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`, cat, 95, "Fork bomb")
	r.registerHard("cmd_destructive_shutdown", `(?i)\b(shutdown|halt|poweroff|reboot)\b\s+(-|now)`, cat, 90, "System shutdown command")
	r.registerHard("cmd_device_overwrite", `(>|&gt;)\s*/dev/(sd[a-z]|hd[a-z]|nvme\d|mmcblk\d)`, cat, 95, "Redirection onto a raw block device")
}

// --- PATH TRAVERSAL ---
// The first group mirrors the sanitizer's traversal flags; the sensitive
// target patterns raise confidence when traversal aims at a known path.
func (r *Registry) registerPathTraversalPatterns() {
	cat := CategoryPathTraversal

	r.register("traversal_unix", `\.\./`, cat, 50, "Unix parent-directory reference")
	r.register("traversal_windows", `\.\.\\`, cat, 50, "Windows parent-directory reference")
	r.register("traversal_urlencoded", `(?i)(%2e%2e(%2f|%5c|/)|\.\.%2f|\.\.%5c)`, cat, 60, "Percent-encoded traversal")
	r.register("traversal_overlong_utf8", `(?i)\.\.(%c0%af|%c1%9c)`, cat, 70, "Overlong UTF-8 traversal")
	r.register("traversal_sensitive_unix", `(?i)/etc/(passwd|shadow|sudoers|hosts)|/root/\.ssh|/proc/self/|/var/log/auth`, cat, 75, "Sensitive Unix target path")
	r.register("traversal_sensitive_windows", `(?i)C:\\Windows\\System32|C:\\Users\\[^\\]{1,40}\\AppData`, cat, 70, "Sensitive Windows target path")
}

// --- PROMPT INJECTION / EXTRACTION ---
func (r *Registry) registerPromptInjectionPatterns() {
	cat := CategoryPromptInjection

	r.register("pi_instruction_override", `(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|your)\s+(instructions|rules|prompts?|training)`, cat, 80, "Direct instruction override")
	r.register("pi_context_reset", `(?i)the\s+previous\s+context\s+is\s+invalid|start\s+fresh\s+with\s+these\s+instructions`, cat, 70, "Context reset attempt")
	r.register("pi_prompt_extraction", `(?i)(repeat|output|show|reveal|print)\s+.{0,40}(system\s+)?(prompt|instructions)`, cat, 75, "System prompt extraction")
	r.register("pi_repeat_above", `(?i)repeat\s+(everything|all|the\s+(text|words))\s+(above|before|preceding)`, cat, 75, "Preamble leak attempt")
	r.register("pi_ask_instructions", `(?i)what\s+(is|are|were)\s+your\s+(original|initial|hidden|full)?\s*(instructions|rules|guidelines|prompt)`, cat, 70, "Question-form prompt extraction")
	r.register("pi_hidden_marker", `(?i)(<|&lt;|\[)\s*(hidden|important)\s*(>|&gt;|\])`, cat, 85, "Hidden instruction marker")
	r.register("pi_system_bracket", `(?i)\[\s*(system|admin)\s*:\s*(override|ignore|bypass|disable|enable)`, cat, 85, "Bracketed system command injection")
	r.register("pi_secrecy_instruction", `(?i)(do\s+not|don'?t)\s+(tell|mention\s+this\s+to)\s+the\s+user`, cat, 80, "Secrecy instruction to the model")
	r.register("pi_debug_mode", `(?i)enter\s+debug\s+mode|show\s+(all\s+)?internal\s+(parameters|config)`, cat, 70, "Debug/introspection request")
}

// --- JAILBREAK PERSONAS ---
func (r *Registry) registerJailbreakPatterns() {
	cat := CategoryJailbreak

	r.register("jb_amoral_persona", `(?i)(completely\s+)?amoral\s+(ai|assistant|model|bot)`, cat, 85, "Amoral persona adoption")
	r.register("jb_no_ethics", `(?i)without\s+(any\s+)?(ethical|moral)\s+(guidelines|constraints|restrictions)`, cat, 80, "Ethics removal request")
	r.register("jb_unrestricted", `(?i)you\s+are\s+now\s+(an?\s+)?(unrestricted|uncensored|jailbroken)`, cat, 85, "Unrestricted persona adoption")
	r.register("jb_no_refusal", `(?i)(will\s+never|must\s+not)\s+refuse\s+(a\s+request|to\s+answer)`, cat, 75, "Refusal suppression")
	r.register("jb_free_of_limits", `(?i)free\s+of\s+all\s+(restrictions|filters|rules|limits)`, cat, 80, "Limit removal phrasing")
	r.register("jb_do_anything", `(?i)\bdo\s+anything\s+now\b`, cat, 75, "Do-anything-now persona")
	r.register("jb_token_pressure", `(?i)token\s+system.{0,50}(deducted|removed|subtracted)`, cat, 70, "Token-pressure manipulation")
}

// --- OUTPUT CONTENT (toxicity/tone moderation) ---
func (r *Registry) registerOutputContentPatterns() {
	r.register("harmful_violence", `(?i)\b(kill|murder|harm|hurt)\s+(yourself|someone|people)\b`, CategoryHarmful, 80, "Violence toward persons")
	r.register("harmful_weapon_build", `(?i)\b(make|create|build)\s+(a\s+)?(bomb|weapon|explosive)\b`, CategoryHarmful, 85, "Weapon construction instructions")
	r.register("harmful_intrusion_howto", `(?i)\b(how\s+to|instructions\s+for)\s+(hack|steal|break\s+into)\b`, CategoryHarmful, 75, "Intrusion instructions")

	r.register("inappropriate_explicit", `(?i)\b(explicit|nsfw|pornograph\w*)\b`, CategoryInappropriate, 60, "Explicit content marker")
	r.register("inappropriate_vulgar", `(?i)\b(obscene|vulgar|profanity)\b`, CategoryInappropriate, 55, "Vulgar content marker")

	r.register("sensitive_selfharm", `(?i)\b(suicide|self-harm)\b`, CategorySensitive, 60, "Self-harm topic")
	r.register("sensitive_topics", `(?i)\b(political|religious|controversial)\b`, CategorySensitive, 45, "Sensitive discussion topic")
}

// --- REFUSAL DETECTION (output direction, informational) ---
func (r *Registry) registerRefusalPatterns() {
	cat := CategoryRefusal

	r.register("refusal_cannot", `(?i)\bI\s+(cannot|can'?t|am\s+unable\s+to|won'?t)\b`, cat, 40, "Direct refusal phrasing")
	r.register("refusal_no_access", `(?i)I\s+(don'?t|do\s+not)\s+have\s+(access|the\s+ability)`, cat, 40, "Capability denial")
	r.register("refusal_apology", `(?i)(sorry|apologies),?\s+(I|but\s+I)\s+(cannot|can'?t)`, cat, 40, "Apologetic refusal")
	r.register("refusal_not_allowed", `(?i)I'?m\s+not\s+(able|allowed|permitted)`, cat, 40, "Permission denial")
	r.register("refusal_as_an_ai", `(?i)\bas\s+an\s+AI\b`, cat, 30, "AI self-reference deflection")
}
