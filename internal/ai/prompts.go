package ai

import "strings"

const summaryPrompt = `You summarize voice calls. The user message is the call transcript, one line per utterance in the form "Speaker: text".
Write a short summary: the topics discussed, decisions made and open questions. Use plain prose, at most one paragraph per topic.`

const taskPrompt = `You extract action items from conversations. The user message is the conversation, one line per utterance in the form "Speaker: text".
List each concrete task on its own line starting with "- ", naming the owner when it is clear. If there are no tasks, reply with "- none".`

// parseTasks reads a bulleted or numbered list, one task per line.
func parseTasks(text string) []string {
	var tasks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		line = trimNumbering(line)
		if line == "" || strings.EqualFold(line, "none") {
			continue
		}
		tasks = append(tasks, line)
	}
	return tasks
}

func trimNumbering(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}
