package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/ytakahashi/todo-sync/internal/auth"
	"github.com/ytakahashi/todo-sync/internal/models"
	"github.com/ytakahashi/todo-sync/internal/services"
)

// LinePrincipalPrefix namespaces LINE user ids in the users/{uid} partition.
const LinePrincipalPrefix = "line:"

// LINE rejects bubbles and alt texts past these sizes.
const (
	maxFlexItems  = 10
	maxAltTextLen = 400
)

// Replier is the part of the messaging API the webhook uses.
type Replier interface {
	ReplyMessage(replyMessageRequest *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error)
}

type WebhookHandler struct {
	bot           Replier
	channelSecret string
	todos         *services.TodoService
}

func NewWebhookHandler(bot Replier, channelSecret string, todos *services.TodoService) *WebhookHandler {
	return &WebhookHandler{
		bot:           bot,
		channelSecret: channelSecret,
		todos:         todos,
	}
}

func getUserID(source webhook.SourceInterface) string {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	default:
		return ""
	}
}

// principalContext scopes ctx to the LINE user's task collection.
func principalContext(ctx context.Context, userID string) context.Context {
	return auth.WithPrincipal(ctx, auth.Principal{UID: LinePrincipalPrefix + userID})
}

func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	cb, err := webhook.ParseRequest(h.channelSecret, c.Request())
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			log.Println("Invalid signature")
			return c.NoContent(http.StatusBadRequest)
		}
		log.Printf("Parse request error: %v", err)
		return c.NoContent(http.StatusInternalServerError)
	}

	for _, event := range cb.Events {
		switch e := event.(type) {
		case webhook.MessageEvent:
			message, ok := e.Message.(webhook.TextMessageContent)
			if !ok {
				continue
			}
			userID := getUserID(e.Source)
			if userID == "" {
				continue
			}
			ctx := principalContext(c.Request().Context(), userID)
			if err := h.handleTextMessage(ctx, e.ReplyToken, message.Text); err != nil {
				log.Printf("Error handling text message: %v", err)
			}
		case webhook.PostbackEvent:
			userID := getUserID(e.Source)
			if userID == "" {
				continue
			}
			ctx := principalContext(c.Request().Context(), userID)
			if err := h.handlePostback(ctx, e.ReplyToken, e.Postback.Data); err != nil {
				log.Printf("Error handling postback: %v", err)
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// parseCommand splits "verb rest" and lower-cases the verb. Full-width spaces
// count as separators.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "　", " "))
	verb, rest, _ := strings.Cut(text, " ")
	return strings.ToLower(verb), strings.TrimSpace(rest)
}

func (h *WebhookHandler) handleTextMessage(ctx context.Context, replyToken, text string) error {
	verb, arg := parseCommand(text)

	switch verb {
	case "add":
		if err := models.ValidateTitle(arg); err != nil {
			return h.replyMessage(replyToken, fmt.Sprintf("Please give the task a title of up to %d characters.\nExample: add Buy milk", models.MaxTitleLength))
		}
		return h.addTask(ctx, replyToken, arg)
	case "list":
		return h.showTaskList(ctx, replyToken)
	case "done":
		return h.completeTaskAt(ctx, replyToken, arg)
	case "delete":
		if strings.EqualFold(arg, "all") {
			return h.askDeleteAllConfirmation(replyToken)
		}
		return h.deleteTaskAt(ctx, replyToken, arg)
	case "stats":
		return h.showStats(ctx, replyToken)
	case "help":
		return h.showHelp(replyToken)
	}

	// unknown messages get no reply
	return nil
}

func (h *WebhookHandler) handlePostback(ctx context.Context, replyToken, data string) error {
	parts := strings.Split(data, ":")

	switch parts[0] {
	case "toggle":
		if len(parts) != 3 {
			return nil
		}
		completed, err := strconv.ParseBool(parts[2])
		if err != nil {
			return nil
		}
		return h.toggleTask(ctx, replyToken, parts[1], completed)

	case "delete_all":
		if len(parts) != 2 {
			return nil
		}
		return h.handleDeleteAllConfirmation(ctx, replyToken, parts[1])
	}

	return nil
}

func (h *WebhookHandler) addTask(ctx context.Context, replyToken, title string) error {
	res := h.todos.AddTask(ctx, title, "")
	if !res.Success {
		return h.replyMessage(replyToken, "Failed to add the task.")
	}
	return h.replyMessage(replyToken, fmt.Sprintf("✅ Added \"%s\".", res.Data.Title))
}

func (h *WebhookHandler) showTaskList(ctx context.Context, replyToken string) error {
	res := h.todos.ListTasks(ctx)
	if !res.Success {
		return h.replyMessage(replyToken, "Failed to load your tasks.")
	}
	if len(res.Data) == 0 {
		return h.replyMessage(replyToken, "You have no tasks.")
	}

	return h.reply(replyToken, h.createTaskListFlexMessage(res.Data))
}

func (h *WebhookHandler) createTaskListFlexMessage(tasks []models.Task) *messaging_api.FlexMessage {
	var contents []messaging_api.FlexComponentInterface

	for i, task := range tasks {
		if i == maxFlexItems {
			contents = append(contents, &messaging_api.FlexText{
				Text:  fmt.Sprintf("…and %d more", len(tasks)-maxFlexItems),
				Size:  "sm",
				Color: "#999999",
			})
			break
		}

		status, label := "Pending", "Done"
		if task.Completed {
			status, label = "Completed", "Undo"
		}

		box := &messaging_api.FlexBox{
			Layout: "vertical",
			Contents: []messaging_api.FlexComponentInterface{
				&messaging_api.FlexText{
					Text:   fmt.Sprintf("%d. %s", i+1, task.Title),
					Weight: "bold",
					Size:   "md",
				},
				&messaging_api.FlexText{
					Text:  status,
					Size:  "sm",
					Color: "#999999",
				},
				&messaging_api.FlexButton{
					Action: &messaging_api.PostbackAction{
						Label: label,
						Data:  fmt.Sprintf("toggle:%s:%t", task.ID, task.Completed),
					},
					Style: "primary",
					Color: "#1DB446",
				},
			},
			Margin:  "md",
			Spacing: "sm",
		}

		if i > 0 {
			box.PaddingTop = "md"
		}

		contents = append(contents, box)
	}

	return &messaging_api.FlexMessage{
		AltText: truncate(taskListText(tasks), maxAltTextLen),
		Contents: &messaging_api.FlexBubble{
			Header: &messaging_api.FlexBox{
				Layout: "vertical",
				Contents: []messaging_api.FlexComponentInterface{
					&messaging_api.FlexText{
						Text:   fmt.Sprintf("📝 Tasks (%d)", len(tasks)),
						Weight: "bold",
						Size:   "xl",
					},
				},
				PaddingAll: "md",
			},
			Body: &messaging_api.FlexBox{
				Layout:   "vertical",
				Contents: contents,
				Spacing:  "md",
			},
		},
	}
}

// taskListText renders the numbered list that "done n" and "delete n" refer to.
func taskListText(tasks []models.Task) string {
	lines := make([]string, 0, len(tasks))
	for i, task := range tasks {
		mark := "⬜"
		if task.Completed {
			mark = "✅"
		}
		lines = append(lines, fmt.Sprintf("%d. %s %s", i+1, mark, task.Title))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// taskAt resolves a 1-based position in the current list.
func (h *WebhookHandler) taskAt(ctx context.Context, arg string) (models.Task, string) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return models.Task{}, "Please give the task number shown by \"list\"."
	}

	res := h.todos.ListTasks(ctx)
	if !res.Success {
		return models.Task{}, "Failed to load your tasks."
	}
	if n > len(res.Data) {
		return models.Task{}, fmt.Sprintf("There is no task %d.", n)
	}
	return res.Data[n-1], ""
}

func (h *WebhookHandler) completeTaskAt(ctx context.Context, replyToken, arg string) error {
	task, problem := h.taskAt(ctx, arg)
	if problem != "" {
		return h.replyMessage(replyToken, problem)
	}
	if task.Completed {
		return h.replyMessage(replyToken, fmt.Sprintf("\"%s\" is already done.", task.Title))
	}
	return h.toggleTask(ctx, replyToken, task.ID, task.Completed)
}

func (h *WebhookHandler) toggleTask(ctx context.Context, replyToken, id string, completed bool) error {
	res := h.todos.ToggleComplete(ctx, id, completed)
	if !res.Success {
		return h.replyMessage(replyToken, "Failed to update the task.")
	}
	if completed {
		return h.replyMessage(replyToken, "↩️ Marked the task as not done.")
	}
	return h.replyMessage(replyToken, "🎉 Task completed!")
}

func (h *WebhookHandler) deleteTaskAt(ctx context.Context, replyToken, arg string) error {
	task, problem := h.taskAt(ctx, arg)
	if problem != "" {
		return h.replyMessage(replyToken, problem)
	}

	res := h.todos.DeleteTask(ctx, task.ID)
	if !res.Success {
		return h.replyMessage(replyToken, "Failed to delete the task.")
	}
	return h.replyMessage(replyToken, fmt.Sprintf("🗑️ Deleted \"%s\".", task.Title))
}

func (h *WebhookHandler) showStats(ctx context.Context, replyToken string) error {
	res := h.todos.GetStats(ctx)
	if !res.Success {
		return h.replyMessage(replyToken, "Failed to load your stats.")
	}
	s := res.Data
	return h.replyMessage(replyToken, fmt.Sprintf("📊 %d tasks: %d completed, %d pending (%d%%)", s.Total, s.Completed, s.Pending, s.CompletionRate))
}

func (h *WebhookHandler) askDeleteAllConfirmation(replyToken string) error {
	quickReply := &messaging_api.QuickReply{
		Items: []messaging_api.QuickReplyItem{
			{
				Action: &messaging_api.PostbackAction{
					Label:       "Yes",
					Data:        "delete_all:yes",
					DisplayText: "Yes",
				},
			},
			{
				Action: &messaging_api.PostbackAction{
					Label:       "No",
					Data:        "delete_all:no",
					DisplayText: "No",
				},
			},
		},
	}

	return h.reply(replyToken, &messaging_api.TextMessage{
		Text:       "⚠️ Delete all of your tasks?",
		QuickReply: quickReply,
	})
}

func (h *WebhookHandler) handleDeleteAllConfirmation(ctx context.Context, replyToken, confirmation string) error {
	if confirmation != "yes" {
		return h.replyMessage(replyToken, "Cancelled.")
	}

	res := h.todos.DeleteAllTasks(ctx)
	if !res.Success {
		return h.replyMessage(replyToken, fmt.Sprintf("Failed to delete all tasks (%d deleted).", res.Data))
	}
	if res.Data == 0 {
		return h.replyMessage(replyToken, "There were no tasks to delete.")
	}
	return h.replyMessage(replyToken, fmt.Sprintf("🗑️ Deleted all %d tasks.", res.Data))
}

func (h *WebhookHandler) showHelp(replyToken string) error {
	helpText := `📝 Todo Bot

🆕 add <title>
   e.g. add Buy milk
📋 list
✅ done <number>
🗑️ delete <number>
🗑️ delete all
📊 stats
❓ help

Numbers refer to the order shown by "list", newest first.`

	return h.replyMessage(replyToken, helpText)
}

func (h *WebhookHandler) replyMessage(replyToken, text string) error {
	return h.reply(replyToken, &messaging_api.TextMessage{Text: text})
}

func (h *WebhookHandler) reply(replyToken string, message messaging_api.MessageInterface) error {
	_, err := h.bot.ReplyMessage(
		&messaging_api.ReplyMessageRequest{
			ReplyToken: replyToken,
			Messages:   []messaging_api.MessageInterface{message},
		},
	)
	if err != nil {
		log.Printf("Failed to send reply message: %v", err)
	}
	return err
}
