package usecase

import "github.com/iamvkosarev/peaceful-ai/pkg/local"

var (
	TextServerError = local.NewSet(
		"Something went wrong on my side. Please try again later.",
		local.NewTrans(local.Rus, "Что-то пошло не так. Попробуйте позже."),
	)
	TextUserNoAccess = local.NewSet(
		"You are not allowed to use this bot.",
		local.NewTrans(local.Rus, "У вас нет доступа к этому боту."),
	)
	TextCommandStart = local.NewSet(
		"Welcome to Peaceful AI. Ask me to write, debug or explain code. "+
			"Use /new to start a new conversation and /chats to see your conversations.",
		local.NewTrans(
			local.Rus,
			"Добро пожаловать в Peaceful AI. Попросите меня написать, отладить или объяснить код. "+
				"Используйте /new, чтобы начать новый разговор, и /chats, чтобы увидеть ваши разговоры.",
		),
	)
	TextCommandHelp = local.NewSet(
		"Write a message to ask a question. /new starts a new conversation, /chats lists your conversations, "+
			"/cancel stops the answer that is being written.",
		local.NewTrans(
			local.Rus,
			"Напишите сообщение, чтобы задать вопрос. /new начинает новый разговор, /chats показывает ваши разговоры, "+
				"/cancel останавливает ответ, который пишется сейчас.",
		),
	)
	TextCommandUnknown = local.NewSet(
		"I don't know that command.",
		local.NewTrans(local.Rus, "Я не знаю такой команды."),
	)
	TextNewConversation = local.NewSet(
		"Your next message starts a new conversation.",
		local.NewTrans(local.Rus, "Следующее сообщение начнёт новый разговор."),
	)
	TextNoConversations = local.NewSet(
		"You have no conversations yet.",
		local.NewTrans(local.Rus, "У вас пока нет разговоров."),
	)
	TextConversationsHeader = local.NewSet(
		"Your conversations (%d):",
		local.NewTrans(local.Rus, "Ваши разговоры (%d):"),
	)
	TextFailedToGetChats = local.NewSet(
		"Failed to get your conversations.",
		local.NewTrans(local.Rus, "Не удалось получить ваши разговоры."),
	)
	TextNothingToCancel = local.NewSet(
		"There is no answer to stop.",
		local.NewTrans(local.Rus, "Нечего останавливать."),
	)
	TextCancelled = local.NewSet(
		"Stopped.",
		local.NewTrans(local.Rus, "Остановлено."),
	)
	TextStillAnswering = local.NewSet(
		"I am still answering your previous message. Use /cancel to stop it.",
		local.NewTrans(local.Rus, "Я ещё отвечаю на предыдущее сообщение. Используйте /cancel, чтобы остановить."),
	)
	TextNotConfigured = local.NewSet(
		"The assistant is not configured yet. Please contact the administrator.",
		local.NewTrans(local.Rus, "Ассистент ещё не настроен. Обратитесь к администратору."),
	)
	TextUpstreamError = local.NewSet(
		"The model could not answer: %s",
		local.NewTrans(local.Rus, "Модель не смогла ответить: %s"),
	)
	TextEmptyMessage = local.NewSet(
		"Please write something.",
		local.NewTrans(local.Rus, "Пожалуйста, напишите что-нибудь."),
	)
)
