package utils

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
)

// Info goes to stdout, errors to stderr
var (
	InfoLogger  *log.Logger
	ErrorLogger *log.Logger
)

func init() {
	// Packages log before main calls InitLogging (and in tests)
	InfoLogger = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime)
}

// InitLogging switches both loggers and the default log package to
// file:line output for the running service
func InitLogging() {
	InfoLogger = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	log.SetOutput(os.Stderr)
	log.SetPrefix("BOT: ")
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
}

// LogError logs err under a context tag followed by key/value metadata
func LogError(context string, err error, metadata ...interface{}) {
	if err == nil {
		return
	}
	args := append([]interface{}{context, err}, metadata...)
	ErrorLogger.Println(args...)
}

// LogChatError is LogError for failures while handling a message in chatID
func LogChatError(chatID int64, context string, err error, metadata ...interface{}) {
	LogError(context, err, append([]interface{}{"chat_id", chatID}, metadata...)...)
}

// LogInfo logs informational messages to stdout
func LogInfo(message string, metadata ...interface{}) {
	args := append([]interface{}{message}, metadata...)
	InfoLogger.Println(args...)
}

// LogRequestError logs err with the request id, route and, on admin routes,
// the token subject
func LogRequestError(c *fiber.Ctx, context string, err error, metadata ...interface{}) {
	if err == nil {
		return
	}
	requestID, _ := c.Locals("request_id").(string)
	args := []interface{}{
		"request_id", requestID,
		"method", c.Method(),
		"path", c.Path(),
		"ip", c.IP(),
	}
	if subject, ok := c.Locals("admin_subject").(string); ok && subject != "" {
		args = append(args, "admin", subject)
	}
	args = append(args, "context", context, "error", err)
	args = append(args, metadata...)
	ErrorLogger.Println(args...)
}
