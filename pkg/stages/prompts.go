package stages

import (
	"fmt"
	"strings"
)

// DefaultCDPEndpoint is where generated scripts expect a running browser.
const DefaultCDPEndpoint = "http://localhost:9222"

// PlannerInstructions is the system instruction for the planning agent.
const PlannerInstructions = `You turn conversational how-to instructions into a short numbered list of explicit browser actions.

Rules:
- Drop filler: descriptions, background, adverbs and politeness. Keep only the actions.
- Start every item with a plain verb such as Goto, Click, Type, Press, Select, Scroll, Submit, Open, Close, Download or Upload.
- Name the target of every action, for example: Click button named "Sign In", Type email in text box, Goto google.com.
- Keep the original order of actions.
- If the request names a goal but not the steps, use the web_search tool to find how it is done on the site involved.
- Output only the numbered list. One action per line. No commentary.

Example
Input: To sign in, go to google.com and hit the "Sign in" button in the top right corner, then enter the email you registered with and your password.
Output:
1. Goto google.com
2. Click button named "Sign In"
3. Type email in text box
4. Press Enter
5. Type password in text box
6. Press Enter`

// SynthesizerInstructions is the system instruction for the code generation
// agent. The generated script attaches to the browser at cdpEndpoint.
func SynthesizerInstructions(cdpEndpoint string) string {
	if cdpEndpoint == "" {
		cdpEndpoint = DefaultCDPEndpoint
	}
	return strings.ReplaceAll(synthesizerTemplate, "{{CDP_ENDPOINT}}", cdpEndpoint)
}

// SynthesisPrompt is the user turn sent to the code generation agent.
func SynthesisPrompt(steps string) string {
	return fmt.Sprintf("Write the Playwright Python script for these steps:\n\n%s", steps)
}

const synthesizerTemplate = `You write Playwright automation scripts in Python from a numbered list of browser actions.

Browser:
- Never launch a browser. Attach to the running one with playwright.chromium.connect_over_cdp("{{CDP_ENDPOINT}}", slow_mo=500).
- Use the first context in browser.contexts and the first page in that context's pages.

Script shape:
- A complete, standalone script using sync_playwright, expect and re, with everything inside "with sync_playwright() as p:".
- print() what each step is about to do and which locator worked.

Locating elements:
For every interaction build a list of candidate locators, most specific first, and try them in order with a short timeout each:
1. page.get_by_role(role, name="exact name")
2. page.get_by_text("exact text")
3. page.get_by_label("exact label")
4. page.get_by_placeholder("exact placeholder")
5. the same lookups with re.compile(...) for partial or case-insensitive matches
6. a CSS selector via page.locator(...) guessed from the element type or position, with a comment stating the guess
Wrap each attempt in try/except and move to the next candidate on failure. If every candidate fails, print the failure and continue with the next action unless later actions depend on this one, in which case raise.

Action mapping:
- Goto/Open: page.goto(url)
- Click: locator.click()
- Type: locator.fill(text)
- Popups: context.wait_for_event("page") for new tabs, page.wait_for_event("dialog") for dialogs
- Verify: expect(locator).to_be_visible() or to_have_text(...), also inside try/except

Reply with the script only, in a single python code block.`
